// Package markdown renders chat message text for transcript views.
package markdown

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// The goldmark instance is stateless between Convert calls and safe to share.
var (
	converter     goldmark.Markdown
	converterOnce sync.Once
)

func getConverter() goldmark.Markdown {
	converterOnce.Do(func() {
		converter = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			// Chat messages use single newlines as line breaks. Raw HTML
			// stays disabled (goldmark's default) so user text cannot inject
			// markup into the agent console.
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
			),
		)
	})
	return converter
}

// Render converts Markdown source to an HTML fragment.
func Render(source string) (string, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := getConverter().Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
