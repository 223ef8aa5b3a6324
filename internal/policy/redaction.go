package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	emailExactPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern      = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, otherwise card numbers match the phone pattern.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// ForLog redacts and truncates free text before it is attached to a log record.
func ForLog(input string, maxRunes int) string {
	out, _ := RedactPII(strings.TrimSpace(input))
	if maxRunes <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= maxRunes {
		return out
	}
	return string(runes[:maxRunes]) + "…"
}

// ValidEmail reports whether v looks like a single email address.
func ValidEmail(v string) bool {
	return emailExactPattern.MatchString(strings.TrimSpace(v))
}

// NormalizePhone strips formatting characters, keeping a leading '+'.
// It returns "" when fewer than 7 digits remain.
func NormalizePhone(v string) string {
	v = strings.TrimSpace(v)
	var b strings.Builder
	digits := 0
	for i, r := range v {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	if digits < 7 || digits > 15 {
		return ""
	}
	return b.String()
}
