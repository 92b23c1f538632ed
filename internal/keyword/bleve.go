// Package keyword provides the Bleve-backed item text index used for hybrid
// keyword backfill when vector retrieval comes up short.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/bunsilmul/chaja/internal/models"
)

// Result is a single keyword search hit.
type Result struct {
	ExternalID int64
	Score      float64
}

// Index is a Bleve full-text index over item name, description and caption,
// keyed by external id.
type Index struct {
	index bleve.Index
}

type itemDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Caption     string `json:"caption"`
}

// New creates or opens a Bleve index at path. An existing index is reused so
// that registered items survive restarts without re-indexing.
func New(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open keyword index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase + tokenize, no stemming. Korean text is
	// matched on whole tokens, which is what the dictionaries produce.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("description", textFieldMapping)
	docMapping.AddFieldMappingsAt("caption", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &Index{index: index}, nil
}

// Index adds or replaces the item's text in the index.
func (x *Index) Index(ctx context.Context, item *models.Item) error {
	doc := itemDoc{
		Name:        item.Name,
		Description: item.Description,
		Caption:     item.Caption,
	}
	return x.index.Index(strconv.FormatInt(item.ExternalID, 10), doc)
}

// Delete removes the item from the index. Unknown ids are a no-op.
func (x *Index) Delete(ctx context.Context, externalID int64) error {
	return x.index.Delete(strconv.FormatInt(externalID, 10))
}

// Search runs a match query over all text fields and returns up to limit
// hits, best first.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Result{ExternalID: id, Score: hit.Score})
	}
	return out, nil
}

// DocCount returns the number of indexed items.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}
