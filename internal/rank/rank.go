// Package rank combines semantic similarity, attribute match, keyword
// overlap, and the gating bonus into the final candidate ordering.
package rank

import (
	"sort"

	"github.com/bunsilmul/chaja/internal/attr"
	"github.com/bunsilmul/chaja/internal/gate"
)

// Final score weights.
const (
	semanticWeight  = 0.5
	attributeWeight = 0.3
	keywordWeight   = 0.2

	// gatingBonusShare folds a fraction of the normalized gating bonus into
	// the attribute component as an extra signal.
	gatingBonusShare = 0.2
)

// Observed operating range of raw inner-product similarities for normalized
// embeddings. Values are mapped linearly onto [0,1] and clamped outside.
const (
	simRangeMin = 0.3
	simRangeMax = 0.95
)

// Candidate is one reranking input.
type Candidate struct {
	ExternalID int64
	// Similarity is the raw inner-product score from the vector index.
	Similarity float64
	// ItemText is the stored name+description used for overlap scoring.
	ItemText string
	// ItemAttrs are the attributes extracted from ItemText.
	ItemAttrs attr.Attributes
}

// Result carries the final score and its components.
type Result struct {
	ExternalID     int64
	FinalScore     float64
	Semantic       float64
	AttributeMatch float64
	KeywordOverlap float64
	GatingBonus    float64
}

// NormalizeSimilarity maps a raw inner-product value onto [0,1].
func NormalizeSimilarity(sim float64) float64 {
	if sim <= simRangeMin {
		return 0
	}
	if sim >= simRangeMax {
		return 1
	}
	return (sim - simRangeMin) / (simRangeMax - simRangeMin)
}

// NormalizeGatingBonus scales a gating bonus by its theoretical maximum.
func NormalizeGatingBonus(bonus float64) float64 {
	if bonus <= 0 {
		return 0
	}
	n := bonus / gate.MaxBonus
	if n > 1 {
		n = 1
	}
	return n
}

// Rerank scores every candidate and returns them sorted by descending final
// score. The sort is stable: ties keep the candidates' input order, which is
// their raw-similarity retrieval order.
func Rerank(candidates []Candidate, query attr.QueryAttributes, gatingResults map[int64]gate.Result) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		r := Result{
			ExternalID:     c.ExternalID,
			Semantic:       NormalizeSimilarity(c.Similarity),
			AttributeMatch: attr.MatchScore(query.Attrs, c.ItemAttrs),
			KeywordOverlap: attr.KeywordOverlap(query.Keywords, c.ItemText),
		}
		if g, ok := gatingResults[c.ExternalID]; ok {
			r.GatingBonus = NormalizeGatingBonus(g.Bonus)
		}

		enhancedAttr := r.AttributeMatch + gatingBonusShare*r.GatingBonus
		if enhancedAttr > 1 {
			enhancedAttr = 1
		}
		r.FinalScore = semanticWeight*r.Semantic +
			attributeWeight*enhancedAttr +
			keywordWeight*r.KeywordOverlap
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	return results
}
