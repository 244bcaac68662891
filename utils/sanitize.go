package utils

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var textSanitizer = bluemonday.StrictPolicy()

// SanitizeText strips HTML elements from page metadata and returns plain
// text. bluemonday escapes what it keeps, so the result is unescaped again:
// "Tom & Jerry" is stored as written, not as "Tom &amp; Jerry".
func SanitizeText(input string) string {
	return html.UnescapeString(textSanitizer.Sanitize(input))
}
