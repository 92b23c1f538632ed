// Package ingest implements the item registration pipeline: caption the
// image when present, embed the combined text, store the metadata mirror,
// add the vector, and index the keywords.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/embedding"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/keyword"
	"github.com/bunsilmul/chaja/internal/models"
	"github.com/bunsilmul/chaja/internal/storage"
)

// ErrMissingField is returned when an item has no text to embed: both the
// description and the image caption came up empty.
var ErrMissingField = errors.New("ingest: no description and no caption")

const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
	maxImageBytes  = 20 << 20
)

// Pipeline registers items into all three stores.
type Pipeline struct {
	store    *index.Store
	items    *storage.ItemStore
	gateway  embedding.Gateway
	keywords *keyword.Index // optional
	client   *http.Client
	logger   *zap.Logger
}

// NewPipeline creates a registration pipeline. keywords may be nil.
func NewPipeline(
	store *index.Store,
	items *storage.ItemStore,
	gateway embedding.Gateway,
	keywords *keyword.Index,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		items:    items,
		gateway:  gateway,
		keywords: keywords,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Register processes a single item end to end. The vector store defers its
// snapshot write; call Flush (or use RegisterBatch) to force it.
func (p *Pipeline) Register(ctx context.Context, input *models.RegisterInput) (*models.RegisterResult, error) {
	image := input.Image
	if len(image) == 0 && input.ImageURL != "" {
		fetched, err := p.fetchImage(ctx, input.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		image = fetched
	}

	caption := ""
	if len(image) > 0 {
		c, err := p.gateway.Caption(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("caption image: %w", err)
		}
		caption = c
	}

	item := &models.Item{
		ExternalID:  input.ExternalID,
		Name:        input.Name,
		Description: input.Description,
		Brand:       input.Brand,
		Caption:     caption,
	}
	text := item.Text()
	if text == "" {
		return nil, ErrMissingField
	}

	vec, err := p.gateway.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed item text: %w", err)
	}

	if err := p.items.Upsert(ctx, item); err != nil {
		return nil, fmt.Errorf("store item: %w", err)
	}

	ordinal, err := p.store.Add(ctx, vec, item.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("index vector: %w", err)
	}

	if p.keywords != nil {
		if err := p.keywords.Index(ctx, item); err != nil {
			// Keyword indexing is auxiliary; the item is searchable without it.
			p.logger.Warn("keyword indexing failed",
				zap.Int64("external_id", item.ExternalID), zap.Error(err))
		}
	}

	p.logger.Info("item registered",
		zap.Int64("external_id", item.ExternalID),
		zap.Uint32("ordinal", ordinal),
		zap.Bool("captioned", caption != ""))
	return &models.RegisterResult{
		ExternalID: item.ExternalID,
		Ordinal:    int(ordinal),
		Caption:    caption,
	}, nil
}

// RegisterBatch processes each item independently; a failure affects only
// that item. The vector snapshot is always flushed at the end.
func (p *Pipeline) RegisterBatch(ctx context.Context, inputs []*models.RegisterInput) (*models.BatchRegisterResponse, error) {
	resp := &models.BatchRegisterResponse{
		Results: make([]models.RegisterResult, 0, len(inputs)),
	}
	for _, input := range inputs {
		result, err := p.Register(ctx, input)
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, models.RegisterResult{
				ExternalID: input.ExternalID,
				Error:      err.Error(),
			})
			continue
		}
		resp.Succeeded++
		resp.Results = append(resp.Results, *result)
	}

	if err := p.store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush vector snapshot: %w", err)
	}
	return resp, nil
}

// Delete removes the item from every store. Unknown ids are a no-op.
func (p *Pipeline) Delete(ctx context.Context, externalID int64) (int, error) {
	removed, err := p.store.Delete(ctx, externalID)
	if err != nil {
		return 0, err
	}
	if err := p.items.Delete(ctx, externalID); err != nil {
		return removed, fmt.Errorf("delete item metadata: %w", err)
	}
	if p.keywords != nil {
		if err := p.keywords.Delete(ctx, externalID); err != nil {
			p.logger.Warn("keyword delete failed",
				zap.Int64("external_id", externalID), zap.Error(err))
		}
	}
	return removed, nil
}

// Sync reconciles the vector store against the externally valid id set,
// removing orphans from all stores.
func (p *Pipeline) Sync(ctx context.Context, validIDs []int64) (*models.SyncResponse, error) {
	totalBefore := p.store.Count()
	orphans, removed, err := p.store.Sync(ctx, validIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range orphans {
		if err := p.items.Delete(ctx, id); err != nil {
			p.logger.Warn("orphan metadata delete failed", zap.Int64("external_id", id), zap.Error(err))
		}
		if p.keywords != nil {
			if err := p.keywords.Delete(ctx, id); err != nil {
				p.logger.Warn("orphan keyword delete failed", zap.Int64("external_id", id), zap.Error(err))
			}
		}
	}
	if orphans == nil {
		orphans = []int64{}
	}
	return &models.SyncResponse{
		TotalIndexed: totalBefore,
		TotalValid:   len(validIDs),
		Removed:      removed,
		OrphanIDs:    orphans,
	}, nil
}

// Flush forces the deferred vector snapshot to disk.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.store.Flush(ctx)
}

// fetchImage downloads an externally hosted image with bounded exponential
// backoff. Only transient failures are retried.
func (p *Pipeline) fetchImage(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	delay := fetchBaseDelay
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		data, retryable, err := p.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt < fetchAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", fetchAttempts, lastErr)
}

func (p *Pipeline) fetchOnce(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("image fetch status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, true, err
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("image fetch returned empty body")
	}
	return data, false, nil
}
