package index

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"

	"github.com/bunsilmul/chaja/pkg/utils"
)

const (
	defaultFanout           = 16
	defaultBuildSearchWidth = 200
)

// HNSW is a hierarchical navigable small-world graph index for approximate
// nearest-neighbor search. Points cannot be removed once inserted; Remove
// returns ErrRemoveUnsupported and deleted ordinals stay resident in the
// graph until a full rebuild.
type HNSW struct {
	dim        int
	fanout     int // neighbors kept per node per layer; layer 0 keeps double
	buildWidth int // candidate pool while inserting
	levelMult  float64

	nodes    []*hnswNode
	entry    uint32
	maxLevel int
	rng      *rand.Rand
}

type hnswNode struct {
	vector    []float32
	neighbors [][]uint32 // per layer, bottom first
}

// NewHNSW creates an approximate graph index with the given dimension.
// Zero params select defaults (fanout 16, build width 200).
func NewHNSW(dim int, params GraphParams) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	fanout := params.Fanout
	if fanout <= 0 {
		fanout = defaultFanout
	}
	buildWidth := params.BuildSearchWidth
	if buildWidth <= 0 {
		buildWidth = defaultBuildSearchWidth
	}
	return &HNSW{
		dim:        dim,
		fanout:     fanout,
		buildWidth: buildWidth,
		levelMult:  1.0 / math.Log(float64(fanout)),
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Add inserts vectors at the next sequential ordinals.
func (h *HNSW) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != h.dim {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), h.dim)
		}
	}
	for _, v := range vectors {
		vec := make([]float32, h.dim)
		copy(vec, v)
		h.insert(vec)
	}
	return nil
}

func (h *HNSW) insert(vec []float32) {
	ord := uint32(len(h.nodes))
	level := h.randomLevel()
	node := &hnswNode{vector: vec, neighbors: make([][]uint32, level+1)}
	h.nodes = append(h.nodes, node)

	if len(h.nodes) == 1 {
		h.entry = ord
		h.maxLevel = level
		return
	}

	cur := h.entry
	for l := h.maxLevel; l > level; l-- {
		cur = h.greedyClosest(vec, cur, l)
	}

	entryPoints := []uint32{cur}
	top := level
	if h.maxLevel < top {
		top = h.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := h.searchLayer(vec, entryPoints, h.buildWidth, l)
		neighbors := closestOrdinals(cands, h.fanout)
		node.neighbors[l] = neighbors

		limit := h.fanout
		if l == 0 {
			limit = h.fanout * 2
		}
		for _, nb := range neighbors {
			nbNode := h.nodes[nb]
			nbNode.neighbors[l] = append(nbNode.neighbors[l], ord)
			if len(nbNode.neighbors[l]) > limit {
				nbNode.neighbors[l] = h.pruneNeighbors(nbNode.vector, nbNode.neighbors[l], limit)
			}
		}
		entryPoints = ordinalsOf(cands)
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = ord
	}
}

// Search returns up to k nearest neighbors. searchWidth is the layer-0
// candidate pool size; values below k are raised to k.
func (h *HNSW) Search(query []float32, k, searchWidth int) ([]Hit, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 || len(h.nodes) == 0 {
		return nil, nil
	}
	if searchWidth < k {
		searchWidth = k
	}

	cur := h.entry
	for l := h.maxLevel; l > 0; l-- {
		cur = h.greedyClosest(query, cur, l)
	}
	cands := h.searchLayer(query, []uint32{cur}, searchWidth, 0)

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if k > len(cands) {
		k = len(cands)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{Ordinal: cands[i].ord, Score: -cands[i].dist}
	}
	return hits, nil
}

// Remove is not supported; the graph cannot drop points without a rebuild.
func (h *HNSW) Remove(ordinals []uint32) error {
	return ErrRemoveUnsupported
}

// Count returns the number of vectors physically present, including any the
// store has soft-deleted.
func (h *HNSW) Count() int { return len(h.nodes) }

// Dim returns the vector dimension.
func (h *HNSW) Dim() int { return h.dim }

func (h *HNSW) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.levelMult)
}

// dist is negated inner product so that smaller is closer.
func (h *HNSW) dist(a []float32, ord uint32) float64 {
	return -utils.InnerProduct(a, h.nodes[ord].vector)
}

func (h *HNSW) greedyClosest(query []float32, start uint32, layer int) uint32 {
	cur := start
	curDist := h.dist(query, cur)
	for {
		improved := false
		for _, nb := range h.neighborsAt(cur, layer) {
			if d := h.dist(query, nb); d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

func (h *HNSW) neighborsAt(ord uint32, layer int) []uint32 {
	n := h.nodes[ord]
	if layer >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[layer]
}

type scoredOrd struct {
	ord  uint32
	dist float64
}

// searchLayer is the beam search over one layer: expand the closest
// unexplored candidate until no candidate can improve the worst result.
func (h *HNSW) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []scoredOrd {
	visited := make(map[uint32]bool, ef*2)
	candidates := &minDistHeap{}
	results := &maxDistHeap{}
	heap.Init(candidates)
	heap.Init(results)

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		d := h.dist(query, ep)
		heap.Push(candidates, scoredOrd{ep, d})
		heap.Push(results, scoredOrd{ep, d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scoredOrd)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		for _, nb := range h.neighborsAt(c.ord, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := h.dist(query, nb)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, scoredOrd{nb, d})
				heap.Push(results, scoredOrd{nb, d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]scoredOrd, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scoredOrd)
	}
	return out
}

func (h *HNSW) pruneNeighbors(base []float32, neighbors []uint32, limit int) []uint32 {
	scored := make([]scoredOrd, len(neighbors))
	for i, nb := range neighbors {
		scored[i] = scoredOrd{nb, h.dist(base, nb)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	kept := make([]uint32, limit)
	for i := 0; i < limit; i++ {
		kept[i] = scored[i].ord
	}
	return kept
}

func closestOrdinals(cands []scoredOrd, limit int) []uint32 {
	sorted := make([]scoredOrd, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })
	if limit > len(sorted) {
		limit = len(sorted)
	}
	out := make([]uint32, limit)
	for i := 0; i < limit; i++ {
		out[i] = sorted[i].ord
	}
	return out
}

func ordinalsOf(cands []scoredOrd) []uint32 {
	out := make([]uint32, len(cands))
	for i, c := range cands {
		out[i] = c.ord
	}
	return out
}

type minDistHeap []scoredOrd

func (h minDistHeap) Len() int            { return len(h) }
func (h minDistHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x interface{}) { *h = append(*h, x.(scoredOrd)) }
func (h *minDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxDistHeap []scoredOrd

func (h maxDistHeap) Len() int            { return len(h) }
func (h maxDistHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x interface{}) { *h = append(*h, x.(scoredOrd)) }
func (h *maxDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MarshalBinary encodes the graph as: dimension, fanout, count, max level,
// entry point, then per node: level count, vector bytes, per-layer neighbor
// lists. All integers little-endian uint32.
func (h *HNSW) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v uint32) error { return binary.Write(&buf, binary.LittleEndian, v) }
	for _, v := range []uint32{uint32(h.dim), uint32(h.fanout), uint32(len(h.nodes)), uint32(h.maxLevel), h.entry} {
		if err := w(v); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	for i, n := range h.nodes {
		if err := w(uint32(len(n.neighbors))); err != nil {
			return nil, fmt.Errorf("write node %d levels: %w", i, err)
		}
		if _, err := buf.Write(float32SliceToBytes(n.vector)); err != nil {
			return nil, fmt.Errorf("write node %d vector: %w", i, err)
		}
		for _, layer := range n.neighbors {
			if err := w(uint32(len(layer))); err != nil {
				return nil, fmt.Errorf("write node %d neighbor count: %w", i, err)
			}
			for _, nb := range layer {
				if err := w(nb); err != nil {
					return nil, fmt.Errorf("write node %d neighbor: %w", i, err)
				}
			}
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the graph contents from an encoded snapshot.
// The encoded dimension must match; fanout is taken from the snapshot so a
// graph built with different parameters loads intact.
func (h *HNSW) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var dim, fanout, count, maxLevel, entry uint32
	for _, dst := range []*uint32{&dim, &fanout, &count, &maxLevel, &entry} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
	}
	if int(dim) != h.dim {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, h.dim)
	}
	nodes := make([]*hnswNode, 0, count)
	vecBuf := make([]byte, h.dim*4)
	for i := uint32(0); i < count; i++ {
		var levels uint32
		if err := binary.Read(r, binary.LittleEndian, &levels); err != nil {
			return fmt.Errorf("read node %d levels: %w", i, err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return fmt.Errorf("read node %d vector: %w", i, err)
		}
		node := &hnswNode{
			vector:    bytesToFloat32Slice(vecBuf),
			neighbors: make([][]uint32, levels),
		}
		for l := uint32(0); l < levels; l++ {
			var nc uint32
			if err := binary.Read(r, binary.LittleEndian, &nc); err != nil {
				return fmt.Errorf("read node %d neighbor count: %w", i, err)
			}
			layer := make([]uint32, nc)
			for j := uint32(0); j < nc; j++ {
				if err := binary.Read(r, binary.LittleEndian, &layer[j]); err != nil {
					return fmt.Errorf("read node %d neighbor: %w", i, err)
				}
			}
			node.neighbors[l] = layer
		}
		nodes = append(nodes, node)
	}
	h.fanout = int(fanout)
	h.levelMult = 1.0 / math.Log(float64(h.fanout))
	h.nodes = nodes
	h.maxLevel = int(maxLevel)
	h.entry = entry
	return nil
}
