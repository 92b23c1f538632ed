// Package index provides the vector index store: nearest-neighbor indexes,
// the ordinal to external-id mapping, durable snapshots and cross-process
// concurrency control.
package index

import (
	"errors"
	"fmt"
)

// Kind selects the nearest-neighbor index implementation.
type Kind string

const (
	// KindExact uses brute-force inner-product search with physical point
	// removal. Good for small catalogs (<10k vectors).
	KindExact Kind = "exact"
	// KindApproximate uses a layered proximity graph. Faster on large
	// catalogs; points cannot be physically removed, deletion is handled by
	// the store's mapping.
	KindApproximate Kind = "approximate"
)

var (
	// ErrRemoveUnsupported is returned by index kinds that cannot physically
	// remove points. The store falls back to mapping-only deletion.
	ErrRemoveUnsupported = errors.New("index: point removal not supported")
	// ErrDimensionMismatch is returned when a vector does not match the
	// index dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
)

// Hit is a single nearest-neighbor search result. Score is the inner product
// of unit-normalized vectors (equals cosine similarity).
type Hit struct {
	Ordinal uint32
	Score   float64
}

// Index is a nearest-neighbor index over fixed-dimension vectors. Ordinals
// are assigned sequentially at insertion. Implementations are not safe for
// concurrent use; the store serializes access.
type Index interface {
	// Add appends vectors, assigning them the next sequential ordinals.
	Add(vectors [][]float32) error
	// Search returns up to k nearest neighbors by inner product, best first.
	// searchWidth tunes recall for approximate kinds and is ignored by exact
	// ones. An empty index returns an empty list, never an error.
	Search(query []float32, k, searchWidth int) ([]Hit, error)
	// Remove physically removes the given ordinals, compacting subsequent
	// ordinals down. Kinds without point removal return ErrRemoveUnsupported
	// and leave the index unchanged.
	Remove(ordinals []uint32) error
	// Count returns the number of vectors physically present.
	Count() int
	// Dim returns the vector dimension.
	Dim() int

	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// GraphParams tunes the approximate graph index. Zero values select defaults.
type GraphParams struct {
	// Fanout is the number of neighbors kept per node per layer.
	Fanout int
	// BuildSearchWidth is the candidate pool size while inserting.
	BuildSearchWidth int
}

// New creates an index of the given kind.
func New(kind Kind, dim int, graph GraphParams) (Index, error) {
	switch kind {
	case KindExact, "":
		return NewFlat(dim)
	case KindApproximate:
		return NewHNSW(dim, graph)
	default:
		return nil, fmt.Errorf("unknown index kind: %s (supported: exact, approximate)", kind)
	}
}
