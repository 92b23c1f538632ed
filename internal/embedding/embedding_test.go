package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

// A hit reorders the LRU list, so concurrent Gets must serialize; this is
// only meaningful under the race detector.
func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(8)
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		c.Set(k, []float32{1})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				k := keys[(n+j)%len(keys)]
				if n%2 == 0 {
					c.Get(k)
				} else {
					c.Set(k, []float32{float32(j)})
				}
			}
		}(i)
	}
	wg.Wait()

	for _, k := range keys {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %q lost", k)
		}
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	assert.Equal(t, CacheKey("검정 지갑"), CacheKey("검정 지갑"))
	assert.NotEqual(t, CacheKey("검정 지갑"), CacheKey("빨간 우산"))
}

func TestMockGateway_Deterministic(t *testing.T) {
	gw := NewMockGateway(64)
	a, err := gw.Embed(context.Background(), "검정 가죽 지갑")
	require.NoError(t, err)
	b, err := gw.Embed(context.Background(), "검정 가죽 지갑")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := gw.Embed(context.Background(), "파란 우산")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMockGateway_EmptyInput(t *testing.T) {
	gw := NewMockGateway(16)
	_, err := gw.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err2 := gw.Caption(context.Background(), nil)
	assert.ErrorIs(t, err2, ErrEmptyInput)
}

type countingGateway struct {
	*MockGateway
	calls int
}

func (g *countingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	g.calls++
	return g.MockGateway.Embed(ctx, text)
}

func TestCachedGateway_SkipsRepeatCalls(t *testing.T) {
	inner := &countingGateway{MockGateway: NewMockGateway(32)}
	gw := WithCache(inner, 10)

	a, err := gw.Embed(context.Background(), "노트북 가방")
	require.NoError(t, err)
	b, err := gw.Embed(context.Background(), "노트북 가방")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls)
}

func TestWithCache_DisabledPassthrough(t *testing.T) {
	inner := NewMockGateway(16)
	assert.Equal(t, Gateway(inner), WithCache(inner, 0))
}

func TestHTTPGateway_Embed(t *testing.T) {
	dim := 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "검정 지갑", req.Text)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{3, 0, 4, 0}})
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", dim, 5*time.Second)
	require.NoError(t, err)
	vec, err := gw.Embed(context.Background(), "검정 지갑")
	require.NoError(t, err)
	require.Len(t, vec, dim)
	// returned vectors are L2-normalized
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[2]), 1e-6)
}

func TestHTTPGateway_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2}})
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", 4, 5*time.Second)
	require.NoError(t, err)
	_, err = gw.Embed(context.Background(), "지갑")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHTTPGateway_Caption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		f.Close()
		json.NewEncoder(w).Encode(map[string]any{"caption": "검정 가죽 지갑"})
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway("", srv.URL, 4, 5*time.Second)
	require.NoError(t, err)
	caption, err := gw.Caption(context.Background(), []byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, "검정 가죽 지갑", caption)
}

func TestHTTPGateway_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, srv.URL, 4, 5*time.Second)
	require.NoError(t, err)
	_, err = gw.Embed(context.Background(), "지갑")
	assert.Error(t, err)
	_, err = gw.Caption(context.Background(), []byte{1})
	assert.Error(t, err)
}
