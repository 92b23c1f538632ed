package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat_AddSearch(t *testing.T) {
	f, err := NewFlat(3)
	require.NoError(t, err)

	require.NoError(t, f.Add([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.7, 0.7, 0},
	}))
	assert.Equal(t, 3, f.Count())

	hits, err := f.Search([]float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint32(0), hits[0].Ordinal)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, uint32(2), hits[1].Ordinal)
}

func TestFlat_SearchEmpty(t *testing.T) {
	f, err := NewFlat(4)
	require.NoError(t, err)
	hits, err := f.Search([]float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFlat_DimensionMismatch(t *testing.T) {
	f, err := NewFlat(3)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Add([][]float32{{1, 0}}), ErrDimensionMismatch)
	_, err = f.Search([]float32{1, 0}, 1, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlat_RemoveCompacts(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{
		{1, 0},
		{0, 1},
		{-1, 0},
	}))
	require.NoError(t, f.Remove([]uint32{1}))
	assert.Equal(t, 2, f.Count())

	// Ordinal 2 shifted down to 1.
	hits, err := f.Search([]float32{-1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].Ordinal)
}

func TestFlat_RemoveOutOfRange(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1, 0}}))
	assert.Error(t, f.Remove([]uint32{5}))
	assert.Equal(t, 1, f.Count())
}

func TestFlat_MarshalRoundTrip(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{0.5, 0.5}, {1, 0}}))

	data, err := f.MarshalBinary()
	require.NoError(t, err)

	restored, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, 2, restored.Count())

	hits, err := restored.Search([]float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].Ordinal)
}

func TestFlat_UnmarshalWrongDimension(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1, 0}}))
	data, err := f.MarshalBinary()
	require.NoError(t, err)

	other, err := NewFlat(3)
	require.NoError(t, err)
	assert.ErrorIs(t, other.UnmarshalBinary(data), ErrDimensionMismatch)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Kind("fancy"), 4, GraphParams{})
	assert.Error(t, err)
}
