// Package i18n resolves user-visible strings from per-locale YAML
// dictionaries. Keys are dotted paths ("chat.aiGreeting"); values may carry
// {placeholder} tokens.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

// Params fills {placeholder} tokens.
type Params map[string]any

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	defaultLang string
	messages    map[string]map[string]string
}

// NewEmbedded loads the dictionaries compiled into the binary.
func NewEmbedded(defaultLang string) (*Catalog, error) {
	sub, err := fs.Sub(embedded, "locales")
	if err != nil {
		return nil, fmt.Errorf("i18n: locales dir: %w", err)
	}
	return Load(sub, defaultLang)
}

// Load reads every <lang>.yaml at the root of fsys.
func Load(fsys fs.FS, defaultLang string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("i18n: read locales: %w", err)
	}
	c := &Catalog{
		defaultLang: Normalize(defaultLang),
		messages:    make(map[string]map[string]string),
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		lang := Normalize(strings.TrimSuffix(e.Name(), ".yaml"))
		raw, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", e.Name(), err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", e.Name(), err)
		}
		flat := make(map[string]string)
		flatten("", tree, flat)
		c.messages[lang] = flat
	}
	if c.defaultLang == "" {
		c.defaultLang = "en"
	}
	if _, ok := c.messages[c.defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default locale %q has no dictionary", c.defaultLang)
	}
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Normalize maps "vi-VN", "VI_vn" and friends to "vi".
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// DefaultLanguage is the fallback locale.
func (c *Catalog) DefaultLanguage() string { return c.defaultLang }

// Supports reports whether a dictionary exists for lang.
func (c *Catalog) Supports(lang string) bool {
	_, ok := c.messages[Normalize(lang)]
	return ok
}

// Languages lists the loaded locales in sorted order.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Resolve picks lang when supported, otherwise the default locale.
func (c *Catalog) Resolve(lang string) string {
	if n := Normalize(lang); c.Supports(n) {
		return n
	}
	return c.defaultLang
}

// T looks key up in lang, then in the default locale, and finally returns
// the key itself.
func (c *Catalog) T(lang, key string, params Params) string {
	msg, ok := c.messages[Normalize(lang)][key]
	if !ok {
		msg, ok = c.messages[c.defaultLang][key]
	}
	if !ok {
		return key
	}
	return expand(msg, params)
}

func expand(msg string, params Params) string {
	if len(params) == 0 || !strings.Contains(msg, "{") {
		return msg
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
