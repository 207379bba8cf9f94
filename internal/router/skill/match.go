package skill

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the Jaro-Winkler score above which a token counts as a
// trigger match even without phonetic overlap. Tuned for short German
// trigger words that whisper occasionally mishears.
const fuzzyThreshold = 0.88

// MatchesTrigger reports whether any token of text matches any trigger word,
// either by Double Metaphone code overlap or by Jaro-Winkler similarity.
// Comparison is case-insensitive and ignores punctuation at token edges.
func MatchesTrigger(text string, triggers []string) bool {
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'")
		if token == "" {
			continue
		}
		tp, ts := matchr.DoubleMetaphone(token)
		for _, trig := range triggers {
			if token == trig {
				return true
			}
			gp, gs := matchr.DoubleMetaphone(trig)
			if tp != "" && (tp == gp || tp == gs) || ts != "" && (ts == gp || ts == gs) {
				// Phonetic overlap alone is too loose for very short codes;
				// require moderate string similarity as well.
				if matchr.JaroWinkler(token, trig, false) >= 0.70 {
					return true
				}
			}
			if matchr.JaroWinkler(token, trig, false) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}
