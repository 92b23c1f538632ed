// Package search runs the retrieval pipeline: query understanding and
// embedding in parallel, oversampled vector retrieval, similarity gating,
// attribute gating, and reranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/attr"
	"github.com/bunsilmul/chaja/internal/config"
	"github.com/bunsilmul/chaja/internal/embedding"
	"github.com/bunsilmul/chaja/internal/gate"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/keyword"
	"github.com/bunsilmul/chaja/internal/models"
	"github.com/bunsilmul/chaja/internal/rank"
	"github.com/bunsilmul/chaja/internal/storage"
	"github.com/bunsilmul/chaja/pkg/utils"
)

// Engine executes search requests against the vector store and the item
// metadata mirror.
type Engine struct {
	store      *index.Store
	items      *storage.ItemStore
	gateway    embedding.Gateway
	normalizer embedding.TextNormalizer
	keywords   *keyword.Index // optional; nil disables keyword backfill
	cfg        *config.SearchConfig
	logger     *zap.Logger
}

// NewEngine creates a search engine. keywords may be nil when keyword
// backfill is disabled.
func NewEngine(
	store *index.Store,
	items *storage.ItemStore,
	gateway embedding.Gateway,
	keywords *keyword.Index,
	cfg *config.SearchConfig,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		items:      items,
		gateway:    gateway,
		normalizer: embedding.Noop{},
		keywords:   keywords,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetNormalizer installs a query text normalizer (typo/spacing correction).
func (e *Engine) SetNormalizer(n embedding.TextNormalizer) {
	if n != nil {
		e.normalizer = n
	}
}

// Search runs the full pipeline for a text query. An empty index yields an
// empty response, never an error.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	text, err := e.normalizer.Normalize(ctx, query.Query)
	if err != nil {
		// Normalization is best-effort; fall back to the raw query.
		e.logger.Debug("query normalization failed", zap.Error(err))
		text = query.Query
	}

	// Query understanding and embedding are independent; run them in parallel.
	var (
		qa       attr.QueryAttributes
		queryVec []float32
		embedErr error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		queryVec, embedErr = e.gateway.Embed(ctx, text)
	}()
	qa = attr.Understand(text)
	<-done

	if embedErr != nil {
		// A gateway outage degrades search to empty rather than failing the
		// request; the condition is visible in the logs and /status.
		e.logger.Warn("embed query failed", zap.Error(embedErr))
		return &models.SearchResponse{
			ItemIDs: []int64{}, Scores: []float64{}, Results: []*models.SearchResult{},
			Query: query.Query, QueryTime: time.Since(start).Milliseconds(),
		}, nil
	}

	resp, err := e.searchVector(ctx, queryVec, qa, e.clampTopK(query.TopK))
	if err != nil {
		return nil, err
	}
	resp.Query = query.Query
	resp.QueryTime = time.Since(start).Milliseconds()

	e.logger.Info("search completed",
		zap.String("query", utils.Truncate(query.Query, 200)),
		zap.Int("results", len(resp.ItemIDs)),
		zap.Int64("took_ms", resp.QueryTime))
	return resp, nil
}

// SearchByVector runs the pipeline for a caller-supplied embedding, used by
// image search after captioning. Attribute gating runs on queryText when it
// is non-empty.
func (e *Engine) SearchByVector(ctx context.Context, queryVec []float32, queryText string, topK int) (*models.SearchResponse, error) {
	start := time.Now()
	topK = e.clampTopK(topK)

	qa := attr.Understand(queryText)
	resp, err := e.searchVector(ctx, queryVec, qa, topK)
	if err != nil {
		return nil, err
	}
	resp.Query = queryText
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// clampTopK applies the configured default and ceiling to a requested topK.
func (e *Engine) clampTopK(topK int) int {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	if topK > e.cfg.MaxTopK {
		topK = e.cfg.MaxTopK
	}
	return topK
}

func (e *Engine) searchVector(ctx context.Context, queryVec []float32, qa attr.QueryAttributes, topK int) (*models.SearchResponse, error) {
	empty := &models.SearchResponse{ItemIDs: []int64{}, Scores: []float64{}, Results: []*models.SearchResult{}}
	if e.store.Count() == 0 {
		return empty, nil
	}

	// Oversample so gating has candidates to discard.
	sample := e.cfg.OversampleFactor * topK
	if min := topK + e.cfg.OversampleMargin; sample < min {
		sample = min
	}
	if sample > e.store.Count() {
		sample = e.store.Count()
	}

	matches, err := e.store.Search(ctx, queryVec, sample)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return empty, nil
	}

	// Similarity gate with a floor: keep at least MinResultsFloor candidates
	// even when they fall under the threshold.
	kept := make([]index.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= e.cfg.MinSimilarity {
			kept = append(kept, m)
		}
	}
	if len(kept) < e.cfg.MinResultsFloor {
		for _, m := range matches {
			if len(kept) >= e.cfg.MinResultsFloor {
				break
			}
			if m.Score < e.cfg.MinSimilarity {
				kept = append(kept, m)
			}
		}
	}

	// Duplicate registrations map one external id to several ordinals; keep
	// the first (best-scoring) occurrence so an id ranks at most once.
	ids := make([]int64, 0, len(kept))
	simByID := make(map[int64]float64, len(kept))
	for _, m := range kept {
		if _, seen := simByID[m.ExternalID]; seen {
			continue
		}
		simByID[m.ExternalID] = m.Score
		ids = append(ids, m.ExternalID)
	}

	meta, err := e.loadMeta(ctx, ids)
	if err != nil {
		return nil, err
	}

	passed, gatingResults := gate.Candidates(ids, qa, meta)

	if e.cfg.KeywordBackfill && e.keywords != nil && len(passed) < topK {
		passed = e.backfillKeyword(ctx, qa, passed, gatingResults, simByID, topK)
		meta, err = e.loadMetaMissing(ctx, passed, meta)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]rank.Candidate, 0, len(passed))
	for _, id := range passed {
		c := rank.Candidate{ExternalID: id, Similarity: simByID[id]}
		if m, ok := meta[id]; ok {
			c.ItemText = m.Text
			c.ItemAttrs = m.Attrs
		}
		candidates = append(candidates, c)
	}

	ranked := rank.Rerank(candidates, qa, gatingResults)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	resp := &models.SearchResponse{
		ItemIDs: make([]int64, len(ranked)),
		Scores:  make([]float64, len(ranked)),
		Results: make([]*models.SearchResult, len(ranked)),
	}
	for i, r := range ranked {
		resp.ItemIDs[i] = r.ExternalID
		resp.Scores[i] = r.FinalScore
		resp.Results[i] = &models.SearchResult{
			ExternalID:     r.ExternalID,
			Score:          r.FinalScore,
			Semantic:       r.Semantic,
			AttributeMatch: r.AttributeMatch,
			KeywordOverlap: r.KeywordOverlap,
			GatingBonus:    r.GatingBonus,
			Rank:           i + 1,
		}
	}
	return resp, nil
}

// loadMeta fetches item metadata and extracts attributes for gating.
// Candidates whose metadata is missing stay absent and pass gating as-is.
func (e *Engine) loadMeta(ctx context.Context, ids []int64) (map[int64]gate.ItemMeta, error) {
	items, err := e.items.GetBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load item metadata: %w", err)
	}
	meta := make(map[int64]gate.ItemMeta, len(items))
	for id, item := range items {
		text := item.Text()
		attrs := attr.FromText(text)
		attrs = attr.MergeBrand(attrs, item.Brand)
		meta[id] = gate.ItemMeta{Attrs: attrs, Text: text}
	}
	return meta, nil
}

func (e *Engine) loadMetaMissing(ctx context.Context, ids []int64, meta map[int64]gate.ItemMeta) (map[int64]gate.ItemMeta, error) {
	var missing []int64
	for _, id := range ids {
		if _, ok := meta[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return meta, nil
	}
	extra, err := e.loadMeta(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, m := range extra {
		meta[id] = m
	}
	return meta, nil
}

// backfillKeyword pads the candidate list with keyword-index hits when vector
// retrieval came up short. Backfilled hits get a below-threshold similarity
// so they rank behind genuine vector matches on the semantic component.
// Candidates that gating vetoed stay out; a keyword match does not override
// an attribute conflict.
func (e *Engine) backfillKeyword(ctx context.Context, qa attr.QueryAttributes, passed []int64, gated map[int64]gate.Result, simByID map[int64]float64, topK int) []int64 {
	queryText := ""
	for _, kw := range qa.Keywords {
		if queryText != "" {
			queryText += " "
		}
		queryText += kw
	}
	if queryText == "" {
		return passed
	}

	hits, err := e.keywords.Search(ctx, queryText, topK*2)
	if err != nil {
		e.logger.Debug("keyword backfill failed", zap.Error(err))
		return passed
	}

	have := make(map[int64]bool, len(passed))
	for _, id := range passed {
		have[id] = true
	}
	for _, hit := range hits {
		if len(passed) >= topK {
			break
		}
		if have[hit.ExternalID] {
			continue
		}
		if r, ok := gated[hit.ExternalID]; ok && !r.Passed {
			continue
		}
		have[hit.ExternalID] = true
		passed = append(passed, hit.ExternalID)
		if _, ok := simByID[hit.ExternalID]; !ok {
			simByID[hit.ExternalID] = 0
		}
	}
	return passed
}

// IsInputError reports whether err stems from invalid caller input rather
// than a backend failure.
func IsInputError(err error) bool {
	return errors.Is(err, embedding.ErrEmptyInput)
}
