package archive

import (
	"strings"
	"unicode"
)

const fallbackName = "playlist"

// stripped characters are removed outright; separators become spaces.
const stripped = `*+~.()'"!:@?<>|`

// SanitizeName turns an arbitrary playlist or track name into something safe
// to use as a file or folder name on every common filesystem.
func SanitizeName(s string) string {
	if out := Sanitize(s); out != "" {
		return out
	}
	return fallbackName
}

// Sanitize is SanitizeName without the fallback: it returns "" when nothing
// usable is left.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(stripped, r):
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	return strings.Trim(out, " -_")
}
