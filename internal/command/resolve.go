package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity a candidate must
// reach before a fuzzy match is accepted. Below it the input is treated
// as naming nothing at all.
const fuzzyThreshold = 0.84

// nameCandidate pairs an addressable id with its display name for fuzzy
// resolution.
type nameCandidate struct {
	ID   string
	Name string
}

// resolveName maps free-form player input onto one candidate. Exact id
// and exact name matches win outright; otherwise the best Jaro-Winkler
// score across ids and names decides, provided it clears the threshold.
func resolveName(input string, candidates []nameCandidate) (nameCandidate, float64, bool) {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" {
		return nameCandidate{}, 0, false
	}

	for _, c := range candidates {
		if needle == strings.ToLower(c.ID) || needle == strings.ToLower(c.Name) {
			return c, 1, true
		}
	}

	var (
		best      nameCandidate
		bestScore float64
	)
	for _, c := range candidates {
		if s := similarity(needle, strings.ToLower(c.Name)); s > bestScore {
			best, bestScore = c, s
		}
		if s := similarity(needle, strings.ToLower(c.ID)); s > bestScore {
			best, bestScore = c, s
		}
	}
	if bestScore < fuzzyThreshold {
		return nameCandidate{}, bestScore, false
	}
	return best, bestScore, true
}

// similarity scores input against a candidate string using the best of
// full-string, space-stripped, and pairwise-token Jaro-Winkler. Multi-word
// names match on their strongest word, so "bottle" finds "dream bottle".
func similarity(input, target string) float64 {
	if target == "" {
		return 0
	}
	score := matchr.JaroWinkler(input, target, false)

	inTokens := strings.Fields(input)
	tgTokens := strings.Fields(target)
	if len(inTokens) > 1 || len(tgTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(tgTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inTokens {
		for _, tt := range tgTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
