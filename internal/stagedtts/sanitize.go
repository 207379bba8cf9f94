package stagedtts

import (
	"strings"
	"unicode"
)

// Sanitize prepares reply text for synthesis: combining diacritical marks
// (U+0300–U+036F) are stripped, control characters removed, and whitespace
// runs collapsed to single spaces. Engines receive only what they can speak.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0x0300 && r <= 0x036F:
			// combining marks confuse phonemizers
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeFingerprint canonicalizes text for cache fingerprinting: sanitized,
// lower-cased, whitespace-collapsed. Two requests differing only in casing or
// spacing share one synthesis.
func normalizeFingerprint(s string) string {
	return strings.ToLower(Sanitize(s))
}
