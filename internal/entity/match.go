package entity

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"argus/internal/core"
)

// Similarity thresholds and edit-distance bounds per entity type. Unlisted
// types fall back to the default pair.
var (
	similarityThresholds = map[core.EntityType]float64{
		core.EntityPerson:       0.90,
		core.EntityOrganization: 0.85,
		core.EntityLocation:     0.85,
		core.EntityProduct:      0.80,
	}
	levenshteinThresholds = map[core.EntityType]int{
		core.EntityPerson:       2,
		core.EntityOrganization: 3,
		core.EntityLocation:     3,
		core.EntityProduct:      3,
	}
)

const (
	defaultSimilarityThreshold = 0.85
	defaultLevenshteinThreshold = 2
)

func similarityThreshold(t core.EntityType) float64 {
	if v, ok := similarityThresholds[t]; ok {
		return v
	}
	return defaultSimilarityThreshold
}

func levenshteinThreshold(t core.EntityType) int {
	if v, ok := levenshteinThresholds[t]; ok {
		return v
	}
	return defaultLevenshteinThreshold
}

// EquivalenceChecker is the DB-backed half of names_match: an
// already-normalized-name equivalence lookup, implemented by
// *store.Store.
type EquivalenceChecker interface {
	AreNamesEquivalent(ctx context.Context, normA, normB string, entityType core.EntityType) (bool, error)
}

// Matcher holds an alias cache of its own and a handle to the store's
// DB-backed equivalence check, implementing the full names_match
// algorithm: identity -> cache -> DB equivalence -> fuzzy match -> cache
// the verdict.
type Matcher struct {
	store EquivalenceChecker
	cache *Cache
}

// NewMatcher constructs a Matcher over store, with a fresh cache.
func NewMatcher(store EquivalenceChecker) *Matcher {
	return &Matcher{store: store, cache: NewCache()}
}

// NamesMatch implements names_match(a, b, type) per spec.md §4.6.
func (m *Matcher) NamesMatch(ctx context.Context, name1, name2 string, entityType core.EntityType) (bool, error) {
	norm1 := Normalize(name1, entityType)
	norm2 := Normalize(name2, entityType)

	if norm1 == norm2 {
		return true, nil
	}

	if cached, ok := m.cache.Get(norm1, norm2, entityType); ok {
		return cached, nil
	}

	equivalent, err := m.store.AreNamesEquivalent(ctx, norm1, norm2, entityType)
	if err != nil {
		return false, err
	}
	if equivalent {
		m.cache.Set(norm1, norm2, entityType, true)
		return true, nil
	}

	result := FuzzyMatch(norm1, norm2, name1, name2, entityType)
	m.cache.Set(norm1, norm2, entityType, result)
	return result, nil
}

// FuzzyMatch is the type-sensitive string-similarity fallback used once
// exact normalization and DB-backed equivalence have both failed.
func FuzzyMatch(norm1, norm2, name1, name2 string, entityType core.EntityType) bool {
	if entityType == core.EntityLocation {
		if len(strings.Fields(norm1)) != len(strings.Fields(norm2)) {
			return false
		}
	}

	if entityType == core.EntityProduct {
		words1 := strings.Fields(norm1)
		words2 := strings.Fields(norm2)
		if len(words1) > 1 && len(words2) > 1 &&
			words1[0] == words2[0] &&
			words1[len(words1)-1] != words2[len(words2)-1] &&
			len(words1[len(words1)-1]) > 3 && len(words2[len(words2)-1]) > 3 {
			if levenshtein.ComputeDistance(words1[len(words1)-1], words2[len(words2)-1]) > 2 {
				return false
			}
		}
	}

	if entityType == core.EntityProduct || entityType == core.EntityOrganization {
		if matched, decided := substringMatch(norm1, norm2, name1, name2, entityType); decided {
			return matched
		}
	}

	if entityType == core.EntityPerson && isPluralPair(norm1, norm2) {
		return false
	}

	if smetrics.JaroWinkler(norm1, norm2, 0.7, 4) >= similarityThreshold(entityType) {
		return true
	}

	lenDiff := abs(len(norm1) - len(norm2))
	threshold := levenshteinThreshold(entityType)
	if lenDiff > threshold {
		return false
	}
	distance := levenshtein.ComputeDistance(norm1, norm2)
	if distance > threshold {
		return false
	}

	maxLen := max(len(norm1), len(norm2))
	if maxLen > 15 {
		prefixLen := commonPrefixLen(norm1, norm2)

		if entityType == core.EntityProduct && prefixLen > 0 {
			suffix1 := strings.TrimSpace(norm1[prefixLen:])
			suffix2 := strings.TrimSpace(norm2[prefixLen:])
			if len(suffix1) > 3 && len(suffix2) > 3 && levenshtein.ComputeDistance(suffix1, suffix2) > 2 {
				return false
			}
		}
		return prefixLen >= maxLen/3
	}
	return true
}

// substringMatch implements the shared-substring / acronym logic for
// PRODUCT and ORGANIZATION. decided is false when neither branch applies
// and the caller should fall through to Jaro-Winkler/Levenshtein.
func substringMatch(norm1, norm2, name1, name2 string, entityType core.EntityType) (matched, decided bool) {
	shorter, longer := norm1, norm2
	shorterOriginal, longerOriginal := name1, name2
	if len(norm2) < len(norm1) {
		shorter, longer = norm2, norm1
		shorterOriginal, longerOriginal = name2, name1
	}
	_ = longerOriginal

	isAcronym := isAllUpperNoSpace(shorter) && len(shorter) > 0
	isAcronymOriginal := isAllUpperNoSpace(shorterOriginal)

	if entityType == core.EntityOrganization && (isAcronym || isAcronymOriginal) {
		longerFirstWord := firstWord(longer)
		if longerFirstWord == shorter {
			return true, true
		}
		if strings.HasPrefix(longer, shorter+" ") {
			return true, true
		}
		for _, word := range strings.Fields(longer) {
			if word == shorter {
				return true, true
			}
		}
		initials := initialsOf(longer)
		if strings.Contains(strings.ToLower(initials), strings.ToLower(shorter)) {
			return true, true
		}
	}

	if !strings.Contains(longer, shorter) {
		return false, false
	}

	shorterTokens := strings.Fields(shorter)
	longerTokens := strings.Fields(longer)

	if len(shorterTokens) == 1 && len(shorter) < 5 && !isAcronym {
		return false, true
	}

	if entityType == core.EntityOrganization && len(shorterTokens) == 1 && !isAcronym &&
		strings.HasPrefix(longer, shorter) && len(longer) > len(shorter) &&
		!strings.HasPrefix(longer[len(shorter):], " ") {
		return false, true
	}

	if isAcronym || (entityType == core.EntityOrganization && len(shorterTokens) == 1 && len(shorter) <= 5) {
		initials := initialsOf(longer)
		if strings.Contains(initials, shorter) {
			return true, true
		}
		for _, tok := range longerTokens {
			if tok == shorter {
				return true, true
			}
		}
		if entityType == core.EntityOrganization && strings.HasPrefix(longer, shorter) {
			return true, true
		}
		return false, false
	}

	if entityType == core.EntityProduct && len(shorter) > 3 {
		return true, true
	}

	if isSubset(shorterTokens, longerTokens) {
		if entityType == core.EntityOrganization && (len(shorterTokens) > 1 || len(shorter) >= len(longer)/2) {
			return true, true
		}
		if entityType == core.EntityLocation && len(shorterTokens) != len(longerTokens) {
			return false, true
		}
	}
	return false, false
}

func isPluralPair(norm1, norm2 string) bool {
	if strings.HasSuffix(norm1, "s") && len(norm1) > len(norm2) && strings.HasPrefix(norm1, norm2) {
		return true
	}
	if strings.HasSuffix(norm2, "s") && len(norm2) > len(norm1) && strings.HasPrefix(norm2, norm1) {
		return true
	}
	return false
}

func isAllUpperNoSpace(s string) bool {
	if s == "" || strings.Contains(s, " ") {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			if !(r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func initialsOf(s string) string {
	var b strings.Builder
	for _, word := range strings.Fields(s) {
		if word != "" {
			b.WriteRune([]rune(word)[0])
		}
	}
	return b.String()
}

func isSubset(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func commonPrefixLen(a, b string) int {
	n := 0
	ra, rb := []rune(a), []rune(b)
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
