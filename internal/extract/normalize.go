package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	shortUnicodeEscape = regexp.MustCompile(`\\u[0-9A-Fa-f]{0,3}([^0-9A-Fa-f]|$)`)
	longUnicodeEscape  = regexp.MustCompile(`\\u[0-9A-Fa-f]{5,}`)
	shortHexEscape     = regexp.MustCompile(`\\x[0-9A-Fa-f]{0,1}([^0-9A-Fa-f]|$)`)
	longHexEscape      = regexp.MustCompile(`\\x[0-9A-Fa-f]{3,}`)
)

// Normalize truncates text to maxChars characters (0 = no limit), removes control and
// noncharacter code points, drops malformed escape sequences, applies NFKD and strips
// combining marks.
func Normalize(text string, maxChars int) string {
	if maxChars > 0 {
		text = truncate(text, maxChars)
	}

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20:
			return -1
		case r == unicode.ReplacementChar || r == 0xFFFE || r == 0xFFFF:
			return -1
		}
		return r
	}, text)

	text = shortUnicodeEscape.ReplaceAllString(text, "${1}")
	text = longUnicodeEscape.ReplaceAllString(text, "")
	text = shortHexEscape.ReplaceAllString(text, "${1}")
	text = longHexEscape.ReplaceAllString(text, "")

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

func truncate(text string, maxChars int) string {
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i]
		}
		count++
	}
	return text
}
