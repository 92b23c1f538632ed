package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// MockGateway is a deterministic gateway for tests. It returns a
// fixed-dimension vector derived from the text hash so that the same text
// always gets the same embedding.
type MockGateway struct {
	dimensions int
}

// NewMockGateway returns a gateway producing deterministic embeddings of the
// given dimensions.
func NewMockGateway(dimensions int) *MockGateway {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockGateway{dimensions: dimensions}
}

// Embed returns a deterministic unit-length embedding based on the text hash.
func (g *MockGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	h := int(xxhash.Sum64String(text) % 100003)
	emb := make([]float32, g.dimensions)
	for i := 0; i < g.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// Caption returns a deterministic caption derived from the image hash.
func (g *MockGateway) Caption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyInput
	}
	return fmt.Sprintf("image-%x", xxhash.Sum64(image)), nil
}

// Dimensions returns the embedding dimension.
func (g *MockGateway) Dimensions() int {
	return g.dimensions
}

// Close is a no-op for MockGateway.
func (g *MockGateway) Close() error {
	return nil
}
