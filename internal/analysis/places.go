package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PlacesDetailed is the continent -> country -> region -> city -> people
// nesting the life-safety sub-flow walks to confirm which real people a
// threat affects. Each person string is the mined "name, type, city" form
// produced alongside the places data; city confirmation prompts read the
// city key, and SplitPerson below splits the stored string back into its
// parts.
type PlacesDetailed map[string]map[string]map[string]map[string][]string

// LoadPlacesDetailed reads the hierarchy from path, or returns
// DefaultPlacesDetailed if path is empty. No grounding source in the pack
// carries the real per-city person rosters (only the lookup shape survived
// distillation); DefaultPlacesDetailed is a small hand-written table, not a
// port of production data.
func LoadPlacesDetailed(path string) (PlacesDetailed, error) {
	if path == "" {
		return DefaultPlacesDetailed(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading detailed places %s: %w", path, err)
	}
	var places PlacesDetailed
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, fmt.Errorf("decoding detailed places %s: %w", path, err)
	}
	return places, nil
}

// DefaultPlacesDetailed is the built-in fallback used when PLACES_PATH is
// unset.
func DefaultPlacesDetailed() PlacesDetailed {
	return PlacesDetailed{
		"North America": {
			"United States": {
				"California": {
					"Los Angeles":   {"Jordan Reyes, resident, Los Angeles"},
					"San Francisco": {"Amy Chen, resident, San Francisco"},
				},
				"Texas": {
					"Houston": {"Marcus Webb, resident, Houston"},
				},
			},
		},
		"Europe": {
			"United Kingdom": {
				"England": {
					"London": {"Priya Shah, resident, London"},
				},
			},
		},
	}
}

// Cities returns the region's city -> people map, or nil if the
// continent/country/region path is not present.
func (p PlacesDetailed) Cities(continent, country, region string) map[string][]string {
	countries, ok := p[continent]
	if !ok {
		return nil
	}
	regions, ok := countries[country]
	if !ok {
		return nil
	}
	return regions[region]
}

// SplitPerson parses a "name, type, city" person string into its name and
// city parts, matching the mined format the detailed places table stores.
func SplitPerson(person string) (name, city string) {
	parts := strings.Split(person, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 {
		return person, ""
	}
	return parts[0], parts[2]
}
