package attr

import (
	"strings"
	"unicode"
)

// FromText extracts attributes from free text using the shared dictionaries.
// The same function serves queries and item name+description text, which keeps
// the two sides directly comparable for gating.
func FromText(text string) Attributes {
	attrs := Attributes{}
	text = strings.TrimSpace(text)
	if text == "" {
		return attrs
	}
	lower := strings.ToLower(text)
	extractContained(attrs, Color, colorDict, text, lower)
	extractContained(attrs, Pattern, patternDict, text, lower)
	extractTokenMatched(attrs, Brand, brandDict, lower)
	return attrs
}

// extractContained records each canonical value whose variant appears anywhere
// in the text. Multiple canonical values per kind are all retained.
func extractContained(attrs Attributes, kind Kind, dict []entry, text, lower string) {
	for _, e := range dict {
		for _, variant := range e.variants {
			if strings.Contains(text, variant) || strings.Contains(lower, strings.ToLower(variant)) {
				attrs.add(kind, e.canonical)
				break
			}
		}
	}
}

// extractTokenMatched records canonical values whose variant equals a whole
// token of the text. Multi-word variants are matched as a token sequence.
func extractTokenMatched(attrs Attributes, kind Kind, dict []entry, lower string) {
	tokens := Tokenize(lower)
	joined := " " + strings.Join(tokens, " ") + " "
	for _, e := range dict {
		for _, variant := range e.variants {
			v := strings.ToLower(variant)
			if strings.Contains(joined, " "+v+" ") {
				attrs.add(kind, e.canonical)
				break
			}
		}
	}
}

// Tokenize splits text on whitespace and punctuation, dropping empty tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// NormalizeBrand maps a free-form catalog brand field to its canonical value,
// or "" when the brand is not in the dictionary.
func NormalizeBrand(brand string) string {
	b := strings.ToLower(strings.TrimSpace(brand))
	if b == "" {
		return ""
	}
	for _, e := range brandDict {
		for _, variant := range e.variants {
			if strings.ToLower(variant) == b {
				return e.canonical
			}
		}
	}
	return ""
}

// MergeBrand folds a structured catalog brand into extracted item attributes.
// An unrecognized brand is ignored rather than guessed at.
func MergeBrand(attrs Attributes, brand string) Attributes {
	canonical := NormalizeBrand(brand)
	if canonical == "" {
		return attrs
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	attrs.add(Brand, canonical)
	return attrs
}
