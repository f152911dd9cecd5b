// Package modifier extracts optional rarity and art-variant phrases from a
// spoken transcript, returning the residual card-name text.
//
// Both extractors are ordered-pattern scanners: the first matching pattern
// wins, its span is excised from the transcript, and the trimmed residue is
// what the resolver matches against card names. Absence of a modifier is not
// an error — the transcript passes through unchanged.
package modifier

import (
	"regexp"
	"strings"
)

// rarityPatterns is ordered longest/most-specific first; the first match
// wins, so "quarter century secret rare" is never shadowed by plain "rare".
var rarityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`quarter century secret rare`),
	regexp.MustCompile(`quarter century secret`),
	regexp.MustCompile(`prismatic secret rare`),
	regexp.MustCompile(`prismatic secret`),
	regexp.MustCompile(`starlight rare`),
	regexp.MustCompile(`collector.*?rare`),
	regexp.MustCompile(`ghost rare`),
	regexp.MustCompile(`secret rare`),
	regexp.MustCompile(`ultimate rare`),
	regexp.MustCompile(`ultra rare`),
	regexp.MustCompile(`super rare`),
	regexp.MustCompile(`parallel rare`),
	regexp.MustCompile(`short print`),
	regexp.MustCompile(`rare`),
	regexp.MustCompile(`common`),
}

// artPatterns capture the art-variant token or phrase in group 1.
var artPatterns = []*regexp.Regexp{
	regexp.MustCompile(`art variant (\w+)`),
	regexp.MustCompile(`art (\w+)`),
	regexp.MustCompile(`variant (\w+)`),
	regexp.MustCompile(`artwork (\w+)`),
	regexp.MustCompile(`art rarity (.+?)(?:\s|$)`),
	regexp.MustCompile(`art variant (.+?)(?:\s|$)`),
}

// Result is the outcome of one extraction pass.
type Result struct {
	// CardName is the residual transcript with the matched span excised and
	// whitespace collapsed.
	CardName string

	// Rarity is the extracted rarity phrase, lowercased; empty when none was
	// found or rarity extraction was disabled.
	Rarity string

	// ArtVariant is the extracted art-variant token; empty when none was
	// found or art extraction was disabled.
	ArtVariant string
}

// Extract runs the art-variant pass and then the rarity pass over transcript.
// Each pass is a no-op when its flag is false. The input is lowercased and
// trimmed before scanning.
func Extract(transcript string, extractRarity, extractArt bool) Result {
	text := strings.ToLower(strings.TrimSpace(transcript))
	res := Result{CardName: text}

	if extractArt {
		for _, pat := range artPatterns {
			if m := pat.FindStringSubmatchIndex(text); m != nil {
				res.ArtVariant = strings.TrimSpace(text[m[2]:m[3]])
				text = excise(text, m[0], m[1])
				break
			}
		}
	}

	if extractRarity {
		for _, pat := range rarityPatterns {
			if m := pat.FindStringIndex(text); m != nil {
				res.Rarity = strings.TrimSpace(text[m[0]:m[1]])
				text = excise(text, m[0], m[1])
				break
			}
		}
	}

	res.CardName = text
	return res
}

// excise removes s[start:end] and collapses the surrounding whitespace.
func excise(s string, start, end int) string {
	return strings.Join(strings.Fields(s[:start]+" "+s[end:]), " ")
}
