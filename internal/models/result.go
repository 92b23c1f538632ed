package models

// SearchResult is a single ranked hit with its score components.
type SearchResult struct {
	ExternalID int64   `json:"external_id"`
	Score      float64 `json:"score"`
	// Semantic is the normalized embedding similarity.
	Semantic float64 `json:"semantic"`
	// AttributeMatch is the dictionary attribute match score.
	AttributeMatch float64 `json:"attribute_match"`
	// KeywordOverlap is the Jaccard overlap between query keywords and item text.
	KeywordOverlap float64 `json:"keyword_overlap"`
	// GatingBonus is the normalized gating bonus folded into the final score.
	GatingBonus float64 `json:"gating_bonus"`
	Rank        int     `json:"rank"`
}

// SearchResponse is the response for a search request. ItemIDs and Scores are
// parallel lists ordered by descending final score, the contract the catalog
// service consumes; Results carries the per-candidate breakdown.
type SearchResponse struct {
	ItemIDs   []int64         `json:"item_ids"`
	Scores    []float64       `json:"scores"`
	Results   []*SearchResult `json:"results"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}

// SyncResponse reports the outcome of an index/catalog reconciliation.
type SyncResponse struct {
	TotalIndexed int     `json:"total_indexed"`
	TotalValid   int     `json:"total_valid"`
	Removed      int     `json:"removed"`
	OrphanIDs    []int64 `json:"orphan_ids"`
}
