package chat

import "strings"

// Keyword lists for the trust heuristic. Scoring is deliberately crude:
// the narrative service owns nuance, the runtime only needs a bounded,
// deterministic number to move the relationship.
var (
	positiveWords = map[string]struct{}{
		"thank": {}, "thanks": {}, "please": {}, "friend": {},
		"help": {}, "kind": {}, "wonderful": {}, "sorry": {},
		"beautiful": {}, "love": {}, "trust": {}, "gift": {},
	}
	negativeWords = map[string]struct{}{
		"hate": {}, "stupid": {}, "liar": {}, "steal": {},
		"ugly": {}, "shut": {}, "fool": {}, "worthless": {},
		"threat": {}, "kill": {},
	}
)

// maxTrustSwing bounds how far one utterance can move trust either way.
const maxTrustSwing = 3

// TrustDelta scores a player utterance by keyword, returning the trust
// adjustment in [-maxTrustSwing, maxTrustSwing]. The state store clamps
// the resulting trust level into its domain bounds on apply.
func TrustDelta(message string) int {
	score := 0
	for _, word := range strings.FieldsFunc(strings.ToLower(message), notLetter) {
		if _, ok := positiveWords[word]; ok {
			score++
		}
		if _, ok := negativeWords[word]; ok {
			score--
		}
	}
	if score > maxTrustSwing {
		return maxTrustSwing
	}
	if score < -maxTrustSwing {
		return -maxTrustSwing
	}
	return score
}

func notLetter(r rune) bool {
	return (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '\''
}
