package models

import "fmt"

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate returns an error if the query text is empty. TopK defaulting and
// clamping is the search engine's job; the limits live in its config.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}
