// Package gate filters candidates whose explicit attributes contradict the
// query before reranking. A semantically close match is dropped when the user
// stated an attribute the item contradicts.
package gate

import (
	"fmt"

	"github.com/bunsilmul/chaja/internal/attr"
)

// Fixed gating weights.
const (
	// CategoryMismatchPenalty is reserved. Category extraction is disabled
	// (the embedding captures it), so this penalty never triggers.
	CategoryMismatchPenalty = -50.0

	ColorConflictPenalty   = -30.0
	PatternConflictPenalty = -30.0

	ColorMatchBonus   = 20.0
	PatternMatchBonus = 15.0
	BrandMatchBonus   = 25.0

	// MaxBonus is the theoretical bonus ceiling, used for normalization.
	MaxBonus = ColorMatchBonus + PatternMatchBonus + BrandMatchBonus

	// PassFloor is the minimum penalty+bonus total to keep a candidate.
	PassFloor = -40.0
)

// Result is the gating outcome for a single candidate.
type Result struct {
	ExternalID int64
	Passed     bool
	// Penalty is the sum of conflict penalties, zero or negative.
	Penalty float64
	// Bonus is the sum of match bonuses, zero or positive.
	Bonus   float64
	Reasons []string
}

// ItemMeta is the item-side input to gating: attributes extracted from the
// item's stored text, plus its text for downstream reranking.
type ItemMeta struct {
	Attrs attr.Attributes
	Text  string
}

// One evaluates a single candidate against the query attributes.
func One(externalID int64, query attr.QueryAttributes, item attr.Attributes) Result {
	r := Result{ExternalID: externalID}

	if attr.HasConflict(query.Attrs, item, attr.Color) {
		r.Penalty += ColorConflictPenalty
		r.Reasons = append(r.Reasons, fmt.Sprintf("색상 불일치: 쿼리=%v, 항목=%v", query.Attrs[attr.Color], item[attr.Color]))
	}
	if attr.HasConflict(query.Attrs, item, attr.Pattern) {
		r.Penalty += PatternConflictPenalty
		r.Reasons = append(r.Reasons, fmt.Sprintf("패턴 불일치: 쿼리=%v, 항목=%v", query.Attrs[attr.Pattern], item[attr.Pattern]))
	}

	if attr.Matches(query.Attrs, item, attr.Color) {
		r.Bonus += ColorMatchBonus
		r.Reasons = append(r.Reasons, "색상 일치")
	}
	if attr.Matches(query.Attrs, item, attr.Pattern) {
		r.Bonus += PatternMatchBonus
		r.Reasons = append(r.Reasons, "패턴 일치")
	}
	if attr.Matches(query.Attrs, item, attr.Brand) {
		r.Bonus += BrandMatchBonus
		r.Reasons = append(r.Reasons, "브랜드 일치")
	}

	r.Passed = r.Penalty+r.Bonus >= PassFloor
	if r.Passed && len(r.Reasons) == 0 {
		r.Reasons = append(r.Reasons, "게이팅 통과 (충돌 없음)")
	}
	return r
}

// Candidates evaluates every candidate and returns the ids that passed, in
// input order, plus the per-id results. A candidate with no metadata passes
// through unexamined; absence of item text is not evidence of conflict.
func Candidates(ids []int64, query attr.QueryAttributes, meta map[int64]ItemMeta) ([]int64, map[int64]Result) {
	passed := make([]int64, 0, len(ids))
	results := make(map[int64]Result, len(ids))

	for _, id := range ids {
		m, ok := meta[id]
		if !ok {
			passed = append(passed, id)
			continue
		}
		r := One(id, query, m.Attrs)
		results[id] = r
		if r.Passed {
			passed = append(passed, id)
		}
	}
	return passed, results
}
