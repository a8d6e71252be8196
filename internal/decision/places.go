package decision

import (
	"encoding/json"
	"fmt"
	"os"
)

// PlacesHierarchy is a continent -> country -> region nesting the threat
// path validates a model's claimed impacted regions against. Matching is
// loose by design: a claimed continent, country, or region name is accepted
// if it appears anywhere in the hierarchy, not only nested under the exact
// parent the model claimed - this mirrors the looseness of the original
// source's equivalent check rather than tightening it.
type PlacesHierarchy map[string]map[string][]string

// Contains reports whether continent, country, or region appears anywhere
// in the hierarchy. Empty strings never match.
func (p PlacesHierarchy) Contains(continent, country, region string) bool {
	for c, countries := range p {
		if continent != "" && c == continent {
			return true
		}
		for co, regions := range countries {
			if country != "" && co == country {
				return true
			}
			for _, r := range regions {
				if region != "" && r == region {
					return true
				}
			}
		}
	}
	return false
}

// LoadPlaces reads a continent/country/region hierarchy from path, or
// returns DefaultPlaces if path is empty. No grounding source in the pack
// defines the real hierarchy's contents (only its shape survived
// distillation into threat.rs); DefaultPlaces is a small hand-written
// table covering a handful of obvious entries, not a port.
func LoadPlaces(path string) (PlacesHierarchy, error) {
	if path == "" {
		return DefaultPlaces(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading places hierarchy %s: %w", path, err)
	}
	var places PlacesHierarchy
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, fmt.Errorf("decoding places hierarchy %s: %w", path, err)
	}
	return places, nil
}

// DefaultPlaces is the built-in fallback hierarchy used when PLACES_PATH is
// unset.
func DefaultPlaces() PlacesHierarchy {
	return PlacesHierarchy{
		"North America": {
			"United States": {"California", "Texas", "New York", "Florida"},
			"Canada":        {"Ontario", "Quebec"},
			"Mexico":        {},
		},
		"Europe": {
			"United Kingdom": {"England", "Scotland", "Wales"},
			"Germany":        {"Bavaria", "Berlin"},
			"France":         {},
		},
		"Asia": {
			"Japan": {"Tokyo", "Osaka"},
			"China": {"Beijing", "Shanghai"},
			"India": {},
		},
		"Africa":        {},
		"South America": {},
		"Oceania":       {},
	}
}
