package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/bunsilmul/chaja/pkg/utils"
)

// Flat is a brute-force inner-product index. Removal is physical: remaining
// vectors are compacted and their ordinals shift down, the way the store's
// mapping expects.
type Flat struct {
	dim     int
	vectors [][]float32
}

// NewFlat creates an exact brute-force index with the given dimension.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Flat{dim: dim, vectors: make([][]float32, 0)}, nil
}

// Add appends vectors at the next sequential ordinals.
func (f *Flat) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		vec := make([]float32, f.dim)
		copy(vec, v)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

// Search scans every vector and returns the top-k by inner product.
// searchWidth is ignored; the scan is exhaustive.
func (f *Flat) Search(query []float32, k, searchWidth int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Hit{Ordinal: uint32(i), Score: utils.InnerProduct(query, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Remove deletes the given ordinals and compacts the rest in order.
func (f *Flat) Remove(ordinals []uint32) error {
	if len(ordinals) == 0 {
		return nil
	}
	drop := make(map[uint32]bool, len(ordinals))
	for _, ord := range ordinals {
		if int(ord) >= len(f.vectors) {
			return fmt.Errorf("ordinal %d out of range (count %d)", ord, len(f.vectors))
		}
		drop[ord] = true
	}
	kept := make([][]float32, 0, len(f.vectors)-len(drop))
	for i, vec := range f.vectors {
		if !drop[uint32(i)] {
			kept = append(kept, vec)
		}
	}
	f.vectors = kept
	return nil
}

// Count returns the number of vectors in the index.
func (f *Flat) Count() int { return len(f.vectors) }

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// MarshalBinary encodes the index as: dimension (4), count (4), then each
// vector as dimension*4 little-endian float bytes.
func (f *Flat) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(f.dim)); err != nil {
		return nil, fmt.Errorf("write dimension: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	for _, vec := range f.vectors {
		if _, err := buf.Write(float32SliceToBytes(vec)); err != nil {
			return nil, fmt.Errorf("write vector: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the index contents from an encoded snapshot.
// The encoded dimension must match.
func (f *Flat) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimension: %w", err)
	}
	if int(dim) != f.dim {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, f.dim)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	vectors := make([][]float32, 0, n)
	buf := make([]byte, f.dim*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	f.vectors = vectors
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
