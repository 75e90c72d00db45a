// Package sanitize turns an arbitrary, possibly hostile, client-supplied
// filename into a safe stem for use as part of a storage path.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength is the cap on a sanitized filename stem.
const MaxLength = 64

// Filename transliterates non-ASCII runes to their closest ASCII
// equivalent via NFKD decomposition (dropping combining marks), then
// replaces every remaining rune outside [A-Za-z0-9_-] with '_', one rune
// per replacement with no collapsing of consecutive underscores, and
// truncates to MaxLength.
func Filename(name string) string {
	transliterated, _, err := transform.String(transform.Chain(
		norm.NFKD,
		transform.RemoveFunc(isCombiningMark),
	), name)
	if err != nil {
		transliterated = name
	}

	var b strings.Builder
	b.Grow(len(transliterated))
	for _, r := range transliterated {
		if r <= unicode.MaxASCII && isSafeRune(byte(r)) {
			b.WriteByte(byte(r))
		} else if r > unicode.MaxASCII {
			// Leftover non-ASCII rune (no NFKD decomposition, e.g. CJK):
			// still maps to a single underscore, not dropped.
			b.WriteByte('_')
		} else {
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	return out
}

func isCombiningMark(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

func isSafeRune(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	default:
		return false
	}
}
