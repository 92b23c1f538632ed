package e2e

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/config"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/ingest"
	"github.com/bunsilmul/chaja/internal/keyword"
	"github.com/bunsilmul/chaja/internal/models"
	"github.com/bunsilmul/chaja/internal/search"
	"github.com/bunsilmul/chaja/internal/storage"
)

const e2eSearchLimit = 10

func e2eSearchConfig() *config.SearchConfig {
	return &config.SearchConfig{
		DefaultTopK:      10,
		MaxTopK:          100,
		MinSimilarity:    0.3,
		MinResultsFloor:  3,
		OversampleFactor: 3,
		OversampleMargin: 50,
		KeywordBackfill:  true,
	}
}

type e2eEnv struct {
	store    *index.Store
	items    *storage.ItemStore
	keywords *keyword.Index
	engine   *search.Engine
	pipeline *ingest.Pipeline
}

func newE2EEnv(t *testing.T, dir string, kind index.Kind) *e2eEnv {
	t.Helper()
	gw := NewTopicGateway()

	store, corruption, err := index.Open(index.Options{
		Dir:          filepath.Join(dir, "index"),
		Kind:         kind,
		Dim:          gw.Dimensions(),
		DisableWatch: true,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if corruption != nil {
		t.Fatalf("unexpected corruption: %s", corruption)
	}
	items, err := storage.NewItemStore(filepath.Join(dir, "items.db"))
	if err != nil {
		t.Fatal(err)
	}
	keywords, err := keyword.New(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := e2eSearchConfig()
	return &e2eEnv{
		store:    store,
		items:    items,
		keywords: keywords,
		engine:   search.NewEngine(store, items, gw, keywords, cfg, zap.NewNop()),
		pipeline: ingest.NewPipeline(store, items, gw, keywords, zap.NewNop()),
	}
}

func (env *e2eEnv) close() {
	_ = env.store.Close()
	_ = env.items.Close()
	_ = env.keywords.Close()
}

func TestE2E_SearchReturnsCorrectItems(t *testing.T) {
	for _, kind := range []index.Kind{index.KindExact, index.KindApproximate} {
		t.Run(string(kind), func(t *testing.T) {
			env := newE2EEnv(t, t.TempDir(), kind)
			defer env.close()
			ctx := context.Background()

			corpus := BuildCorpus()
			for _, input := range corpus.ToRegisterInputs() {
				if _, err := env.pipeline.Register(ctx, input); err != nil {
					t.Fatalf("register item %d: %v", input.ExternalID, err)
				}
			}
			if err := env.pipeline.Flush(ctx); err != nil {
				t.Fatal(err)
			}

			t.Logf("registered %d items; running %d query test cases",
				corpus.TotalItems, corpus.TotalQueries)

			for _, tc := range corpus.TestCases {
				t.Run(tc.Description, func(t *testing.T) {
					resp, err := env.engine.Search(ctx, &models.SearchQuery{
						Query: tc.Query,
						TopK:  e2eSearchLimit,
					})
					if err != nil {
						t.Fatalf("search failed: %v", err)
					}
					if !containsAny(resp.ItemIDs, tc.ExpectedIDs) {
						t.Errorf("query %q: expected at least one of %v in results, got %v",
							tc.Query, tc.ExpectedIDs, resp.ItemIDs)
					}
				})
			}
		})
	}
}

func TestE2E_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	env := newE2EEnv(t, dir, index.KindExact)
	corpus := BuildCorpus()
	for _, input := range corpus.ToRegisterInputs() {
		if _, err := env.pipeline.Register(ctx, input); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.pipeline.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	env.close()

	// A fresh process over the same data must serve the same results.
	env = newE2EEnv(t, dir, index.KindExact)
	defer env.close()

	if got := env.store.Count(); got != corpus.TotalItems {
		t.Fatalf("reopened store has %d vectors, want %d", got, corpus.TotalItems)
	}
	for _, tc := range corpus.TestCases {
		resp, err := env.engine.Search(ctx, &models.SearchQuery{
			Query: tc.Query,
			TopK:  e2eSearchLimit,
		})
		if err != nil {
			t.Fatalf("search %q after reopen: %v", tc.Query, err)
		}
		if !containsAny(resp.ItemIDs, tc.ExpectedIDs) {
			t.Errorf("query %q after reopen: expected one of %v, got %v",
				tc.Query, tc.ExpectedIDs, resp.ItemIDs)
		}
	}
}

func TestE2E_DeleteRemovesFromResults(t *testing.T) {
	env := newE2EEnv(t, t.TempDir(), index.KindExact)
	defer env.close()
	ctx := context.Background()

	corpus := BuildCorpus()
	for _, input := range corpus.ToRegisterInputs() {
		if _, err := env.pipeline.Register(ctx, input); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.pipeline.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// Item 13 is the only tumbler; once deleted the query cannot find it.
	if _, err := env.pipeline.Delete(ctx, 13); err != nil {
		t.Fatal(err)
	}
	resp, err := env.engine.Search(ctx, &models.SearchQuery{Query: "텀블러", TopK: e2eSearchLimit})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range resp.ItemIDs {
		if id == 13 {
			t.Errorf("deleted item 13 still in results: %v", resp.ItemIDs)
		}
	}
}

func containsAny(got []int64, expected []int64) bool {
	set := make(map[int64]bool)
	for _, id := range got {
		set[id] = true
	}
	for _, id := range expected {
		if set[id] {
			return true
		}
	}
	return false
}
