package rank

import (
	"testing"

	"github.com/bunsilmul/chaja/internal/attr"
	"github.com/bunsilmul/chaja/internal/gate"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeSimilarity(t *testing.T) {
	tests := []struct {
		name string
		sim  float64
		want float64
	}{
		{"below range clamps to zero", 0.1, 0},
		{"at lower bound", 0.3, 0},
		{"above range clamps to one", 0.99, 1},
		{"at upper bound", 0.95, 1},
		{"midpoint", 0.625, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeSimilarity(tt.sim), 1e-9)
		})
	}
}

func TestNormalizeGatingBonus(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeGatingBonus(0))
	assert.Equal(t, 0.0, NormalizeGatingBonus(-10))
	assert.InDelta(t, 1.0, NormalizeGatingBonus(gate.MaxBonus), 1e-9)
	assert.InDelta(t, 1.0, NormalizeGatingBonus(gate.MaxBonus+5), 1e-9)
	assert.InDelta(t, gate.ColorMatchBonus/gate.MaxBonus, NormalizeGatingBonus(gate.ColorMatchBonus), 1e-9)
}

func TestRerank_OrderByFinalScore(t *testing.T) {
	query := attr.QueryAttributes{
		Attrs:    attr.Attributes{attr.Color: {"검은색"}},
		Keywords: []string{"검은색", "지갑"},
	}
	candidates := []Candidate{
		{ExternalID: 1, Similarity: 0.5, ItemText: "흰색 가방", ItemAttrs: attr.FromText("흰색 가방")},
		{ExternalID: 2, Similarity: 0.5, ItemText: "검은색 지갑", ItemAttrs: attr.FromText("검은색 지갑")},
	}
	results := Rerank(candidates, query, nil)

	assert.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].ExternalID, "attribute and keyword match must outrank equal similarity")
	assert.Greater(t, results[0].FinalScore, results[1].FinalScore)
}

func TestRerank_Monotonicity(t *testing.T) {
	// Increasing similarity with all other signals fixed never lowers the score.
	query := attr.QueryAttributes{Keywords: []string{"지갑"}}
	prev := -1.0
	for _, sim := range []float64{0.0, 0.3, 0.5, 0.7, 0.9, 0.95, 1.0} {
		results := Rerank([]Candidate{
			{ExternalID: 1, Similarity: sim, ItemText: "검은 지갑"},
		}, query, nil)
		assert.GreaterOrEqual(t, results[0].FinalScore, prev,
			"score decreased when similarity rose to %f", sim)
		prev = results[0].FinalScore
	}
}

func TestRerank_StableTies(t *testing.T) {
	query := attr.QueryAttributes{}
	candidates := []Candidate{
		{ExternalID: 10, Similarity: 0.6},
		{ExternalID: 20, Similarity: 0.6},
		{ExternalID: 30, Similarity: 0.6},
	}
	results := Rerank(candidates, query, nil)
	assert.Equal(t, int64(10), results[0].ExternalID)
	assert.Equal(t, int64(20), results[1].ExternalID)
	assert.Equal(t, int64(30), results[2].ExternalID)
}

func TestRerank_GatingBonusFoldsIntoAttribute(t *testing.T) {
	query := attr.QueryAttributes{Attrs: attr.Attributes{attr.Brand: {"나이키"}}}
	itemAttrs := attr.Attributes{attr.Brand: {"나이키"}}
	gating := map[int64]gate.Result{
		1: {ExternalID: 1, Passed: true, Bonus: gate.BrandMatchBonus},
	}

	with := Rerank([]Candidate{{ExternalID: 1, Similarity: 0.6, ItemAttrs: itemAttrs}}, query, gating)
	without := Rerank([]Candidate{{ExternalID: 1, Similarity: 0.6, ItemAttrs: itemAttrs}}, query, nil)

	assert.Greater(t, with[0].FinalScore, without[0].FinalScore)
	assert.InDelta(t, gate.BrandMatchBonus/gate.MaxBonus, with[0].GatingBonus, 1e-9)
}

func TestRerank_AttributeComponentCapped(t *testing.T) {
	// Full attribute match plus full bonus must not push the attribute
	// component past its weight.
	query := attr.QueryAttributes{Attrs: attr.Attributes{
		attr.Color: {"검은색"}, attr.Pattern: {"체크"}, attr.Brand: {"나이키"},
	}}
	itemAttrs := attr.Attributes{
		attr.Color: {"검은색"}, attr.Pattern: {"체크"}, attr.Brand: {"나이키"},
	}
	gating := map[int64]gate.Result{1: {ExternalID: 1, Bonus: gate.MaxBonus}}

	results := Rerank([]Candidate{{ExternalID: 1, Similarity: 0.95, ItemAttrs: itemAttrs}}, query, gating)
	// semantic 1.0*0.5 + attr capped 1.0*0.3 + keyword 0*0.2
	assert.InDelta(t, 0.8, results[0].FinalScore, 1e-9)
}
