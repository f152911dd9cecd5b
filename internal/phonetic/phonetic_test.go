package phonetic_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/cardrip/internal/phonetic"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Blue-Eyes White Dragon", "blue eyes white dragon"},
		{"  Dark   Magician  ", "dark magician"},
		{"Gaia The Fierce Knight!", "gaia the fierce knight"},
		{"D/D/D Flame King", "ddd flame king"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := phonetic.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Blue-Eyes White Dragon",
		"  weird \t spacing\nhere ",
		"Ultra—Rare ★印刷",
		"plain",
	}
	for _, s := range inputs {
		once := phonetic.Normalize(s)
		twice := phonetic.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestVariants_StartsWithLowercasedInput(t *testing.T) {
	t.Parallel()

	vs := phonetic.Variants("Dark Magician")
	if len(vs) == 0 {
		t.Fatal("Variants returned no entries")
	}
	if vs[0] != "dark magician" {
		t.Errorf("Variants[0] = %q, want %q", vs[0], "dark magician")
	}
}

func TestVariants_PhoneticSubstitutions(t *testing.T) {
	t.Parallel()

	vs := phonetic.Variants("blue eyes white dragun")
	var foundCanonical bool
	for _, v := range vs {
		if strings.Contains(v, "dragon") {
			foundCanonical = true
			break
		}
	}
	if !foundCanonical {
		t.Errorf("Variants(%q) = %v, want a variant containing %q", "blue eyes white dragun", vs, "dragon")
	}
}

func TestVariants_CompoundForms(t *testing.T) {
	t.Parallel()

	vs := phonetic.Variants("metal flame swordsman")
	want := map[string]bool{
		"metalflameswordsman":  false,
		"metalflame swordsman": false,
	}
	for _, v := range vs {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for form, found := range want {
		if !found {
			t.Errorf("Variants missing compound form %q; got %v", form, vs)
		}
	}
}

func TestVariants_DeduplicatedUnderNormalize(t *testing.T) {
	t.Parallel()

	vs := phonetic.Variants("Cyber-Stein of the sea dragon hero")
	seen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		key := phonetic.Normalize(v)
		if _, dup := seen[key]; dup {
			t.Errorf("duplicate normalized variant %q in %v", key, vs)
		}
		seen[key] = struct{}{}
	}
}

func TestVariants_Capped(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("dark magician dragon hero gaia metal flame ", 4)
	vs := phonetic.Variants(long)
	if len(vs) > phonetic.MaxVariants {
		t.Errorf("Variants produced %d entries, cap is %d", len(vs), phonetic.MaxVariants)
	}
}

func TestVariants_EmptyInput(t *testing.T) {
	t.Parallel()

	if vs := phonetic.Variants("   "); vs != nil {
		t.Errorf("Variants(blank) = %v, want nil", vs)
	}
}

func TestCodesOverlap(t *testing.T) {
	t.Parallel()

	a := phonetic.Codes("dragun")
	b := phonetic.Codes("dragon")
	if !phonetic.CodesOverlap(a, b) {
		t.Errorf("Codes(%q) and Codes(%q) do not overlap, want overlap", "dragun", "dragon")
	}

	c := phonetic.Codes("pot of greed")
	if phonetic.CodesOverlap(a, c) {
		t.Errorf("Codes(%q) and Codes(%q) overlap, want none", "dragun", "pot of greed")
	}
}
