// Package phonetic normalizes card names and expands them into a bounded set
// of spoken-form variants.
//
// Speech recognizers routinely mangle trading-card vocabulary ("dragun" for
// "dragon", "gaya" for "Gaia", "metal flame" for "Metalflame"). The variant
// generator covers this with two mechanisms:
//
//  1. A fixed substitution table of domain word pairs, applied in both
//     directions, each hit producing one additional variant.
//  2. Compound forms for multi-word names: the full concatenation plus every
//     prefix-concatenation split, covering "X-Y" vs "XY" vs "X Y".
//
// Variants are deduplicated under [Normalize] and capped at [MaxVariants] so
// generation never explodes on long inputs.
//
// The package also exposes Double Metaphone code sets ([Codes], [CodesOverlap])
// used by the resolver's fuzzy pass as a phonetic alignment signal.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// MaxVariants is the sanity cap on the number of variants generated for a
// single input. Further growth is dropped.
const MaxVariants = 64

// substitution pairs a canonical domain word with the spoken alternatives a
// recognizer commonly produces for it. The table is applied in both
// directions: hearing "drago" also suggests "dragon". Order is fixed so
// variant generation is deterministic.
type substitution struct {
	word string
	alts []string
}

var substitutions = []substitution{
	{"yu", []string{"you", "u"}},
	{"dragon", []string{"drago", "drag", "dragun"}},
	{"magician", []string{"magic", "mage", "majician"}},
	{"hero", []string{"hiro", "heero"}},
	{"elemental", []string{"element"}},
	{"cyber", []string{"siber"}},
	{"dark", []string{"drak"}},
	{"gaia", []string{"gaya", "guy", "gya"}},
	{"warrior", []string{"war", "worrier"}},
	{"machine", []string{"mach", "machin"}},
	{"beast", []string{"best"}},
	{"fiend", []string{"fend", "feend"}},
	{"spellcaster", []string{"spell", "caster"}},
	{"aqua", []string{"agua"}},
	{"winged", []string{"wing"}},
	{"thunder", []string{"under"}},
	{"zombie", []string{"zomb"}},
	{"plant", []string{"plan"}},
	{"insect", []string{"insec"}},
	{"rock", []string{"rok"}},
	{"pyro", []string{"fire"}},
	{"sea", []string{"see"}},
	{"divine", []string{"divin"}},
	{"metal", []string{"mettle"}},
	{"flame", []string{"flam"}},
	{"neos", []string{"neo", "neus"}},
}

// Normalize lowercases s, collapses whitespace and hyphen runs to single
// spaces, drops every character that is not an ASCII letter, digit, or space,
// and trims. Normalize is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '-':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// Variants returns a deduplicated ordered list of spoken-form variants of s,
// starting with the lowercased input. Deduplication compares [Normalize]
// forms, so two variants that normalize identically count once. The result
// never exceeds [MaxVariants] entries.
func Variants(s string) []string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return nil
	}

	seen := make(map[string]struct{}, 8)
	var out []string
	add := func(v string) {
		if len(out) >= MaxVariants {
			return
		}
		key := Normalize(v)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}

	add(lower)

	// Table substitutions, canonical → spoken and spoken → canonical.
	// Each hit applies the replacement once.
	for _, sub := range substitutions {
		if strings.Contains(lower, sub.word) {
			for _, alt := range sub.alts {
				add(strings.Replace(lower, sub.word, alt, 1))
			}
		}
		for _, alt := range sub.alts {
			if strings.Contains(lower, alt) {
				add(strings.Replace(lower, alt, sub.word, 1))
			}
		}
	}

	// Compound forms for multi-word inputs.
	words := strings.Fields(lower)
	if len(words) >= 2 {
		add(strings.Join(words, ""))
		for i := 1; i < len(words); i++ {
			add(strings.Join(words[:i], "") + " " + strings.Join(words[i:], " "))
		}
	}

	return out
}

// Codes returns the union of Double Metaphone codes over the whitespace
// tokens of s. Tokens that produce no code are skipped.
func Codes(s string) map[string]struct{} {
	tokens := strings.Fields(strings.ToLower(s))
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, sec := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// CodesOverlap reports whether the two code sets share at least one code.
func CodesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
