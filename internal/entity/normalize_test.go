package entity

import (
	"testing"

	"argus/internal/core"
)

func TestBasicNormalization(t *testing.T) {
	cases := map[string]string{
		"Blue Origin":   "blue origin",
		"Blue-Origin":   "blue origin",
		" BLUE  ORIGIN ": "blue origin",
	}
	for input, want := range cases {
		if got := basicNormalize(input); got != want {
			t.Errorf("basicNormalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestApostropheHandling(t *testing.T) {
	cases := map[string]string{
		"SpaceX's Starlinks": "spacex starlinks",
		"SpaceX's":           "spacex",
		"James' Book":        "james book",
	}
	for input, want := range cases {
		if got := basicNormalize(input); got != want {
			t.Errorf("basicNormalize(%q) = %q, want %q", input, got, want)
		}
	}
}

// namesMatchNoDB mirrors names_match without the cache/DB-equivalence
// steps, for exercising the pure normalize+fuzzy pipeline directly.
func namesMatchNoDB(a, b string, entityType core.EntityType) bool {
	normA := Normalize(a, entityType)
	normB := Normalize(b, entityType)
	if normA == normB {
		return true
	}
	return FuzzyMatch(normA, normB, a, b, entityType)
}

func TestApostropheMatching(t *testing.T) {
	if !namesMatchNoDB("SpaceX's Starlinks", "Starlink", core.EntityProduct) {
		t.Error("expected SpaceX's Starlinks to match Starlink")
	}
	if !namesMatchNoDB("McDonald's", "McDonalds", core.EntityOrganization) {
		t.Error("expected McDonald's to match McDonalds")
	}
}
