package entity

import (
	"regexp"
	"strings"

	"argus/internal/core"
)

// Candidate is a proposed (canonical, alias) pair mined from article text,
// awaiting admin review as a PENDING alias row.
type Candidate struct {
	Canonical  string
	Alias      string
	EntityType core.EntityType
	Source     string
	Confidence float64
}

type pattern struct {
	id         string
	re         *regexp.Regexp
	confidence float64
}

// Mining patterns cover the common in-text alias constructions: explicit
// "also known as"/"aka" apposition, parenthetical short-forms, and
// "formerly"/"renamed" renames. Each pattern id becomes the alias row's source.
var miningPatterns = []pattern{
	{
		id:         "aka",
		re:         regexp.MustCompile(`(?i)([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})\s*,?\s*(?:also known as|a\.?k\.?a\.?)\s+([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})`),
		confidence: 0.75,
	},
	{
		id:         "parenthetical",
		re:         regexp.MustCompile(`([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})\s*\(([A-Z][\w&.'-]{1,10})\)`),
		confidence: 0.6,
	},
	{
		id:         "formerly",
		re:         regexp.MustCompile(`(?i)([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5}),?\s+formerly\s+(?:known as\s+)?([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})`),
		confidence: 0.7,
	},
	{
		id:         "renamed",
		re:         regexp.MustCompile(`(?i)([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})\s+(?:was|has been)\s+renamed\s+(?:to\s+)?([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,5})`),
		confidence: 0.7,
	},
}

// Mine runs the pattern extractors over text, proposing alias candidates for
// every PERSON/ORGANIZATION/LOCATION/PRODUCT entity name found in known. A
// candidate is only emitted when one side of the matched pair is one of the
// known entity names for the article (by normalized form), so mining stays
// anchored to entities the extraction step already found.
func Mine(text string, known map[string]core.EntityType) []Candidate {
	var out []Candidate
	for _, p := range miningPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if len(m) != 3 {
				continue
			}
			left := strings.TrimSpace(m[1])
			right := strings.TrimSpace(m[2])
			if left == "" || right == "" || strings.EqualFold(left, right) {
				continue
			}

			entityType, ok := resolveType(left, right, known)
			if !ok {
				continue
			}

			out = append(out, Candidate{
				Canonical:  left,
				Alias:      right,
				EntityType: entityType,
				Source:     p.id,
				Confidence: p.confidence,
			})
		}
	}
	return out
}

// resolveType finds the entity type of whichever of left/right is present
// in known, trying each entity type's normalization in turn since the extractor
// itself does not know the type ahead of time.
func resolveType(left, right string, known map[string]core.EntityType) (core.EntityType, bool) {
	for _, t := range []core.EntityType{core.EntityOrganization, core.EntityPerson, core.EntityLocation, core.EntityProduct} {
		if et, ok := known[Normalize(left, t)]; ok && et == t {
			return t, true
		}
		if et, ok := known[Normalize(right, t)]; ok && et == t {
			return t, true
		}
	}
	return "", false
}
