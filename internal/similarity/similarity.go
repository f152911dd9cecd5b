// Package similarity provides the string-distance primitives used by the card
// resolver: Levenshtein edit distance and the derived ratio, a word-order
// independent token-set ratio, a word-by-word match score, and a compound-word
// score that tolerates "X-Y" vs "XY" vs "X Y" variation.
//
// All functions are pure and case-insensitive; scores are real values in
// [0, 1]. Callers that present scores as "confidence percent" scale by 100.
package similarity

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// wordMatchThreshold is the minimum per-token ratio for a token of one string
// to count as matching a token of the other in [WordByWord].
const wordMatchThreshold = 0.8

// containmentScore is returned by [CompoundWord] when the space-stripped form
// of one input contains the other.
const containmentScore = 0.9

// Levenshtein returns the classical edit distance between a and b,
// case-insensitive.
func Levenshtein(a, b string) int {
	return matchr.Levenshtein(strings.ToLower(a), strings.ToLower(b))
}

// Ratio returns 1 − levenshtein(a,b)/max(|a|,|b|). Two empty strings are
// identical, so Ratio("", "") == 1.
func Ratio(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	la := len([]rune(a))
	lb := len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(maxLen)
}

// TokenSetRatio tokenizes both inputs on whitespace into unordered token sets
// and compares the intersection against each side's remainder. It returns the
// maximum pairwise [Ratio] between the three canonical strings formed from
// the sorted intersection, intersection∪diff(a), and intersection∪diff(b).
//
// The construction makes the score independent of word order: any permutation
// of the same tokens scores 1.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)

	var inter, diffA, diffB []string
	for t := range tokensA {
		if _, ok := tokensB[t]; ok {
			inter = append(inter, t)
		} else {
			diffA = append(diffA, t)
		}
	}
	for t := range tokensB {
		if _, ok := tokensA[t]; !ok {
			diffB = append(diffB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(diffA)
	sort.Strings(diffB)

	interStr := strings.Join(inter, " ")
	combA := strings.TrimSpace(interStr + " " + strings.Join(diffA, " "))
	combB := strings.TrimSpace(interStr + " " + strings.Join(diffB, " "))

	score := Ratio(interStr, combA)
	if s := Ratio(interStr, combB); s > score {
		score = s
	}
	if s := Ratio(combA, combB); s > score {
		score = s
	}
	return score
}

// WordByWord scores how many tokens of a find a matching token in b, where a
// match is token equality or a per-token [Ratio] of at least 0.8. The score
// is matches divided by the larger token count, so extra unmatched words on
// either side dilute the result.
func WordByWord(a, b string) float64 {
	tokensA := strings.Fields(strings.ToLower(a))
	tokensB := strings.Fields(strings.ToLower(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	matches := 0
	for _, ta := range tokensA {
		for _, tb := range tokensB {
			if ta == tb || Ratio(ta, tb) >= wordMatchThreshold {
				matches++
				break
			}
		}
	}

	maxTokens := len(tokensA)
	if len(tokensB) > maxTokens {
		maxTokens = len(tokensB)
	}
	return float64(matches) / float64(maxTokens)
}

// CompoundWord compares the space- and hyphen-stripped forms of a and b.
// When one stripped form contains the other the score is 0.9; otherwise it
// falls back to [Ratio] of the stripped forms. This catches spoken compounds
// like "metal flame" against the printed "Metalflame".
func CompoundWord(a, b string) float64 {
	sa := stripJoiners(a)
	sb := stripJoiners(b)

	if sa != "" && sb != "" && (strings.Contains(sa, sb) || strings.Contains(sb, sa)) {
		return containmentScore
	}
	return Ratio(sa, sb)
}

// tokenSet returns the lowercased whitespace tokens of s as a set.
func tokenSet(s string) map[string]struct{} {
	tokens := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// stripJoiners removes whitespace and hyphens and lowercases s.
func stripJoiners(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
