package attr

import "strings"

// Weights of each kind in the attribute match score. They sum to 1.
const (
	colorMatchWeight   = 0.4
	patternMatchWeight = 0.3
	brandMatchWeight   = 0.3
)

// HasConflict reports whether query and item explicitly disagree on kind:
// both sides state at least one value and the value sets are disjoint.
// Absence on either side is never a conflict.
func HasConflict(query, item Attributes, kind Kind) bool {
	qv, iv := query[kind], item[kind]
	if len(qv) == 0 || len(iv) == 0 {
		return false
	}
	return !intersects(qv, iv)
}

// Matches reports whether query and item share at least one value of kind.
func Matches(query, item Attributes, kind Kind) bool {
	qv, iv := query[kind], item[kind]
	if len(qv) == 0 || len(iv) == 0 {
		return false
	}
	return intersects(qv, iv)
}

// MatchScore is the weighted sum of per-kind matches in [0,1]. A kind absent
// on either side contributes nothing, neither reward nor penalty.
func MatchScore(query, item Attributes) float64 {
	score := 0.0
	if Matches(query, item, Color) {
		score += colorMatchWeight
	}
	if Matches(query, item, Pattern) {
		score += patternMatchWeight
	}
	if Matches(query, item, Brand) {
		score += brandMatchWeight
	}
	if score > 1 {
		score = 1
	}
	return score
}

// KeywordOverlap is the Jaccard similarity between the query keywords and the
// whitespace-tokenized words of itemText, in [0,1].
func KeywordOverlap(keywords []string, itemText string) float64 {
	if len(keywords) == 0 || itemText == "" {
		return 0
	}
	itemWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(itemText)) {
		itemWords[w] = struct{}{}
	}
	queryWords := make(map[string]struct{})
	for _, kw := range keywords {
		queryWords[strings.ToLower(kw)] = struct{}{}
	}
	intersection := 0
	for w := range queryWords {
		if _, ok := itemWords[w]; ok {
			intersection++
		}
	}
	union := len(itemWords) + len(queryWords) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
