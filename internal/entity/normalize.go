// Package entity implements deterministic name normalization, type-aware
// fuzzy matching with a per-Matcher verdict cache, and pattern-based alias
// mining over article text.
package entity

import (
	"strings"
	"unicode"

	"github.com/blevesearch/go-porterstemmer"
	"golang.org/x/text/unicode/norm"

	"argus/internal/core"
)

// commonVariations maps a normalized substring to the canonical form it
// should be replaced with, applied after stemming for PRODUCT and
// ORGANIZATION entities.
var commonVariations = []struct{ variant, canonical string }{
	{"corp", "corporation"},
	{"inc", "incorporated"},
	{"co ", "company "},
	{"intl", "international"},
	{"assoc", "association"},
	{"dept", "department"},
}

var apostropheReplacer = strings.NewReplacer(
	"'s ", " ",
	"'s", "",
	"s' ", "s ",
	"' ", " ",
	"'", "",
)

// Normalize applies the deterministic normalization pipeline: apostrophe
// stripping, NFKD, lowercasing, punctuation-to-space, whitespace
// collapse, then - for PRODUCT and ORGANIZATION - English stemming
// token-wise and a common-variations substitution.
func Normalize(name string, entityType core.EntityType) string {
	normalized := basicNormalize(name)

	if entityType == core.EntityProduct || entityType == core.EntityOrganization {
		normalized = stemTokens(normalized)
		for _, v := range commonVariations {
			if strings.Contains(normalized, v.variant) {
				return strings.Replace(normalized, v.variant, v.canonical, 1)
			}
		}
	}
	return normalized
}

func basicNormalize(name string) string {
	withoutApostrophes := apostropheReplacer.Replace(name)
	decomposed := norm.NFKD.String(withoutApostrophes)
	lowered := strings.ToLower(decomposed)

	var b strings.Builder
	for _, r := range lowered {
		if isAlphanumeric(r) || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stemTokens(s string) string {
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		tokens[i] = porterstemmer.StemString(tok)
	}
	return strings.Join(tokens, " ")
}
