package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes and strips combining marks so that accented letters
// compare equal to their base form (ş→s, ğ→g, ü→u, é→e).
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes free-form spoken answers for comparison: lower-case,
// diacritics folded to base Latin letters, punctuation collapsed to spaces,
// whitespace trimmed. Normalizing an already-normalized string is a no-op.
func Normalize(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r == 'ı': // dotless i has no decomposition; fold explicitly
			return 'i'
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
