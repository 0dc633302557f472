package lock

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitizeText strips all markup from user-supplied free text. The policy
// escapes what it keeps, so the result is unescaped back to plain text.
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// SanitizeText is sanitizeText for callers outside the package, such as deny
// reasons entered by administrators.
func SanitizeText(s string) string {
	return sanitizeText(s)
}

// wordCount splits on whitespace only. Markup counts as written.
func wordCount(fields ...string) int {
	n := 0
	for _, f := range fields {
		n += len(strings.Fields(f))
	}
	return n
}
