// Package resolver turns a speech transcript into a ranked list of card
// printing candidates for the active set. Matching runs in stages: modifier
// extraction, name-level comparison, printing expansion with rarity scoring,
// an optional variant-based fuzzy pass, and a final unique-confidence sort.
package resolver

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/modifier"
	"github.com/MrWong99/cardrip/internal/phonetic"
	"github.com/MrWong99/cardrip/internal/similarity"
)

const (
	exactScore = 95

	// maxConfidence caps the fuzzy-pass name score so a perfect variant match
	// never outranks a true exact match.
	maxConfidence = 95

	// rarityWeight blends the rarity score into the name score when a rarity
	// modifier was spoken.
	rarityWeight = 0.25

	// lowNameScore halves the blended confidence when the name match alone is
	// this weak, so a perfect rarity hit cannot carry a junk name match.
	lowNameScore = 40

	// DefaultMaxCandidates bounds the returned list.
	DefaultMaxCandidates = 8
)

// Method tags name the matcher that produced a candidate.
const (
	MethodSetSearchExact = "set-search-exact"
	MethodSetSearchFuzzy = "set-search-fuzzy"
	MethodFuzzy          = "fuzzy"
	MethodWord           = "word"
	MethodTokenSet       = "token-set"
	MethodCompound       = "compound"
)

// Candidate is one ranked printing match. Confidence is in [0,100] and unique
// within a single resolution's output.
type Candidate struct {
	CardID     string  `json:"cardId"`
	Name       string  `json:"name"`
	Rarity     string  `json:"rarity"`
	SetCode    string  `json:"setCode"`
	SetName    string  `json:"setName"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Transcript string  `json:"transcript"`
}

// Settings control one resolution call. The zero value disables modifier
// extraction and the fuzzy pass; MatchThreshold and MaxCandidates fall back
// to sensible defaults when unset.
type Settings struct {
	AutoExtractRarity     bool
	AutoExtractArtVariant bool
	MatchThreshold        float64
	EnableFuzzyMatching   bool
	MaxCandidates         int
}

// Resolution is the full outcome of one call: the ranked candidates plus the
// modifiers that were stripped from the transcript.
type Resolution struct {
	Candidates []Candidate `json:"candidates"`
	Rarity     string      `json:"rarity,omitempty"`
	ArtVariant string      `json:"artVariant,omitempty"`
}

// nameHit holds a card that passed the name-level stage.
type nameHit struct {
	card   catalog.Card
	score  float64
	method string
}

// variantKey deduplicates candidates within one resolution call.
type variantKey struct {
	name    string
	rarity  string
	setCode string
}

// Resolve ranks the printings of cards against transcript. An empty
// transcript, an empty card list, or zero survivors all yield an empty
// candidate list, never an error.
func Resolve(transcript string, set catalog.CardSet, cards []catalog.Card, st Settings) Resolution {
	if st.MatchThreshold <= 0 {
		st.MatchThreshold = 0.7
	}
	if st.MaxCandidates <= 0 {
		st.MaxCandidates = DefaultMaxCandidates
	}

	res := Resolution{Candidates: []Candidate{}}
	if strings.TrimSpace(transcript) == "" || len(cards) == 0 {
		return res
	}

	extracted := modifier.Extract(transcript, st.AutoExtractRarity, st.AutoExtractArtVariant)
	res.Rarity = extracted.Rarity
	res.ArtVariant = extracted.ArtVariant
	residual := extracted.CardName
	normResidual := phonetic.Normalize(residual)
	if normResidual == "" {
		return res
	}

	byKey := make(map[variantKey]Candidate)

	for _, card := range cards {
		normName := phonetic.Normalize(card.Name)
		if normName == "" {
			continue
		}
		var hit nameHit
		switch {
		case normResidual == normName:
			hit = nameHit{card: card, score: exactScore, method: MethodSetSearchExact}
		default:
			r := similarity.Ratio(normResidual, normName)
			if r < st.MatchThreshold {
				continue
			}
			hit = nameHit{card: card, score: r * 90, method: MethodSetSearchFuzzy}
		}
		expandPrintings(byKey, hit, set, extracted.Rarity, transcript)
	}

	if st.EnableFuzzyMatching {
		fuzzyPass(byKey, residual, set, cards, extracted.Rarity, transcript, st.MatchThreshold)
	}

	if len(byKey) == 0 {
		return res
	}

	cands := make([]Candidate, 0, len(byKey))
	for _, c := range byKey {
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		if cands[i].Name != cands[j].Name {
			return cands[i].Name < cands[j].Name
		}
		return cands[i].SetCode < cands[j].SetCode
	})
	uniquifyConfidences(cands)
	if len(cands) > st.MaxCandidates {
		cands = cands[:st.MaxCandidates]
	}

	slog.Debug("transcript resolved",
		"transcript", transcript,
		"set", set.SetName,
		"candidates", len(cands),
		"top_method", cands[0].Method,
	)
	res.Candidates = cands
	return res
}

// expandPrintings turns one name-hit into candidates, one per surviving
// printing, merged into byKey keeping the higher confidence.
func expandPrintings(byKey map[variantKey]Candidate, hit nameHit, set catalog.CardSet, rarityMod, transcript string) {
	for _, p := range hit.card.Printings {
		if !catalog.ValidRarity(p.Rarity) {
			continue
		}

		confidence := hit.score
		if rarityMod != "" {
			rs := rarityScore(rarityMod, p.Rarity)
			if rs < 70 {
				continue
			}
			confidence = hit.score*(1-rarityWeight) + rs*rarityWeight
			if hit.score < lowNameScore {
				confidence /= 2
			}
		}

		setName := p.SetName
		if setName == "" {
			setName = set.SetName
		}
		cand := Candidate{
			CardID:     hit.card.CardID,
			Name:       hit.card.Name,
			Rarity:     p.Rarity,
			SetCode:    p.SetCode,
			SetName:    setName,
			Confidence: confidence,
			Method:     hit.method,
			Transcript: transcript,
		}
		key := variantKey{name: cand.Name, rarity: cand.Rarity, setCode: cand.SetCode}
		if prev, ok := byKey[key]; !ok || cand.Confidence > prev.Confidence {
			byKey[key] = cand
		}
	}
}

// rarityScore grades the spoken rarity modifier against a printing's rarity.
func rarityScore(modifier, rarity string) float64 {
	m := strings.ToLower(strings.TrimSpace(modifier))
	r := strings.ToLower(strings.TrimSpace(rarity))
	switch {
	case m == r:
		return 100
	case strings.Contains(m, r) || strings.Contains(r, m):
		return 80
	}
	if ratio := similarity.Ratio(m, r); ratio >= 0.7 {
		return ratio * 70
	}
	return 0
}

// fuzzyPass compares every variant of the residual against every variant of
// each card name, scoring with the best of four primitives and a length
// penalty. The token-set primitive makes the pass word-order independent, so
// "magician dark" still finds "Dark Magician". Surviving cards expand into
// candidates like the name-level stage.
func fuzzyPass(byKey map[variantKey]Candidate, residual string, set catalog.CardSet, cards []catalog.Card, rarityMod, transcript string, threshold float64) {
	resVariants := normalizedVariants(residual)
	if len(resVariants) == 0 {
		return
	}
	resCodes := phonetic.Codes(residual)

	for _, card := range cards {
		// Double Metaphone candidate filter: cards sharing no phonetic code
		// with the residual are scored only when a raw ratio check suggests a
		// joined-token match the code sets cannot see.
		if !phonetic.CodesOverlap(resCodes, phonetic.Codes(card.Name)) &&
			similarity.Ratio(phonetic.Normalize(residual), phonetic.Normalize(card.Name)) < threshold/2 {
			continue
		}

		nameVariants := normalizedVariants(card.Name)
		if len(nameVariants) == 0 {
			continue
		}

		best := 0.0
		method := MethodFuzzy
		for _, rv := range resVariants {
			for _, nv := range nameVariants {
				if r := similarity.Ratio(rv, nv); r > best {
					best, method = r, MethodFuzzy
				}
				if w := similarity.WordByWord(rv, nv); w > best {
					best, method = w, MethodWord
				}
				if ts := similarity.TokenSetRatio(rv, nv); ts > best {
					best, method = ts, MethodTokenSet
				}
				if c := similarity.CompoundWord(rv, nv); c > best {
					best, method = c, MethodCompound
				}
			}
		}

		best *= lengthPenalty(residual, card.Name)
		if best < threshold {
			continue
		}
		score := best * 100
		if score > maxConfidence {
			score = maxConfidence
		}
		expandPrintings(byKey, nameHit{card: card, score: score, method: method}, set, rarityMod, transcript)
	}
}

// normalizedVariants generates the variant set of s and normalizes each
// entry, dropping any that normalize to nothing.
func normalizedVariants(s string) []string {
	raw := phonetic.Variants(s)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if n := phonetic.Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// lengthPenalty discounts matches between strings of very different lengths.
func lengthPenalty(a, b string) float64 {
	la, lb := len(a), len(b)
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(max)
}

// uniquifyConfidences enforces a strict total order over the sorted list by
// giving every candidate a distinct confidence, rounded to one decimal.
// Comparison happens on integer tenths so IEEE-754 drift cannot collide two
// slots. Duplicates first walk downward by 0.1; when that would drop below
// 10 they walk upward from the original value instead, capped at 99.
func uniquifyConfidences(cands []Candidate) {
	taken := make(map[int]struct{}, len(cands))
	for i := range cands {
		orig := int(math.Round(cands[i].Confidence * 10))
		slot := orig
		for {
			if _, dup := taken[slot]; !dup {
				break
			}
			slot--
			if slot >= 100 {
				continue
			}
			slot = orig
			for {
				slot++
				if _, dup := taken[slot]; !dup || slot >= 990 {
					break
				}
			}
			break
		}
		taken[slot] = struct{}{}
		cands[i].Confidence = float64(slot) / 10
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})
}
