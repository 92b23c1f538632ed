package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/embedding"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/keyword"
	"github.com/bunsilmul/chaja/internal/models"
	"github.com/bunsilmul/chaja/internal/storage"
)

func newTestPipeline(t *testing.T, withKeywords bool) (*Pipeline, *index.Store, *storage.ItemStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	store, corruption, err := index.Open(index.Options{
		Dir: dataDir, Kind: index.KindExact, Dim: 32, DisableWatch: true,
	}, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, corruption)
	t.Cleanup(func() { store.Close() })

	items, err := storage.NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { items.Close() })

	var kw *keyword.Index
	if withKeywords {
		kw, err = keyword.New(filepath.Join(t.TempDir(), "kw.bleve"))
		require.NoError(t, err)
		t.Cleanup(func() { kw.Close() })
	}

	p := NewPipeline(store, items, embedding.NewMockGateway(32), kw, zap.NewNop())
	return p, store, items, dataDir
}

func TestPipeline_RegisterTextOnly(t *testing.T) {
	p, store, items, _ := newTestPipeline(t, false)
	ctx := context.Background()

	result, err := p.Register(ctx, &models.RegisterInput{
		ExternalID:  1,
		Name:        "검정 지갑",
		Description: "지하철 2호선에서 발견",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ExternalID)
	assert.Equal(t, 0, result.Ordinal)
	assert.Empty(t, result.Caption)

	assert.Equal(t, 1, store.Count())
	got, err := items.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "검정 지갑", got.Name)
}

func TestPipeline_RegisterWithImage(t *testing.T) {
	p, _, items, _ := newTestPipeline(t, false)
	ctx := context.Background()

	result, err := p.Register(ctx, &models.RegisterInput{
		ExternalID: 2,
		Image:      []byte{0xFF, 0xD8, 0xFF, 0x01},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Caption, "caption becomes the embedded text")

	got, err := items.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, result.Caption, got.Caption)
}

func TestPipeline_RegisterMissingField(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, false)
	_, err := p.Register(context.Background(), &models.RegisterInput{ExternalID: 3})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, 0, store.Count(), "nothing indexed on rejection")
}

func TestPipeline_RegisterFromImageURL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt fails transiently; the retry succeeds.
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0x02})
	}))
	defer srv.Close()

	p, store, _, _ := newTestPipeline(t, false)
	result, err := p.Register(context.Background(), &models.RegisterInput{
		ExternalID: 4,
		ImageURL:   srv.URL + "/item.jpg",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Caption)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, store.Count())
}

func TestPipeline_RegisterImageURLNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p, _, _, _ := newTestPipeline(t, false)
	_, err := p.Register(context.Background(), &models.RegisterInput{
		ExternalID: 5,
		ImageURL:   srv.URL + "/missing.jpg",
	})
	assert.Error(t, err, "404 is permanent, no retries")
}

func TestPipeline_RegisterBatchPartialFailure(t *testing.T) {
	p, store, _, dataDir := newTestPipeline(t, false)
	ctx := context.Background()

	resp, err := p.RegisterBatch(ctx, []*models.RegisterInput{
		{ExternalID: 1, Description: "파란 우산"},
		{ExternalID: 2}, // no text -> per-item failure
		{ExternalID: 3, Description: "갈색 가방"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Equal(t, 2, store.Count())

	// The batch always flushes the snapshot.
	_, statErr := os.Stat(filepath.Join(dataDir, "index.bin"))
	assert.NoError(t, statErr)
}

func TestPipeline_DeleteCascades(t *testing.T) {
	p, store, items, _ := newTestPipeline(t, true)
	ctx := context.Background()

	_, err := p.Register(ctx, &models.RegisterInput{ExternalID: 1, Description: "텀블러"})
	require.NoError(t, err)

	removed, err := p.Delete(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Count())
	_, err = items.Get(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	removed, err = p.Delete(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestPipeline_Sync(t *testing.T) {
	p, store, items, _ := newTestPipeline(t, false)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		_, err := p.Register(ctx, &models.RegisterInput{ExternalID: i, Description: "이어폰"})
		require.NoError(t, err)
	}

	resp, err := p.Sync(ctx, []int64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.TotalIndexed)
	assert.Equal(t, 2, resp.TotalValid)
	assert.Equal(t, 2, resp.Removed)
	assert.Equal(t, []int64{1, 3}, resp.OrphanIDs)
	assert.Equal(t, 2, store.Count())

	_, err = items.Get(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = items.Get(ctx, 2)
	assert.NoError(t, err)
}
