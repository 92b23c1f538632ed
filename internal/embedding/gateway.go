// Package embedding provides the client side of the embedding/captioning
// model server, plus caching. The models themselves live behind an HTTP
// boundary and are not part of this service.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput is returned when the input text is blank.
	ErrEmptyInput = errors.New("embedding: empty input")
	// ErrDimensionMismatch is returned when the gateway returns a vector
	// whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Gateway produces vector embeddings for text and captions for images.
type Gateway interface {
	// Embed returns a unit-normalized vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Caption returns a free-text description of the image, which is then
	// embedded like any other text.
	Caption(ctx context.Context, image []byte) (string, error)
	Dimensions() int
	Close() error
}

// TextNormalizer fixes typos and spacing in raw user text before embedding.
// The correction model is external; Noop is used when none is configured.
type TextNormalizer interface {
	Normalize(ctx context.Context, text string) (string, error)
}

// Noop is a TextNormalizer that returns text unchanged.
type Noop struct{}

// Normalize returns text as-is.
func (Noop) Normalize(_ context.Context, text string) (string, error) {
	return text, nil
}
