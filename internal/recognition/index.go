package recognition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const (
	indexMaxNeighbors = 16
	// Candidates pulled from the graph before the exact distance check.
	searchCandidates = 8
)

// Index is an in-memory nearest-neighbour index over named reference
// encodings. Lookups go through an HNSW graph; the returned distance is
// recomputed exactly so tolerance checks stay faithful.
type Index struct {
	mu    sync.RWMutex
	dim   int
	graph *hnsw.Graph[string]
	vecs  map[string][]float64
}

// NewIndex creates an empty index. dim 0 adopts the size of the first encoding.
func NewIndex(dim int) *Index {
	return &Index{dim: dim, vecs: make(map[string][]float64)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	return g
}

func toVector(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

// Add inserts or replaces the encoding stored under name.
func (x *Index) Add(name string, vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty encoding for %q", ErrDimensionMismatch, name)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 {
		x.dim = len(vec)
	}
	if len(vec) != x.dim {
		return fmt.Errorf("%w: %q has %d values, index holds %d", ErrDimensionMismatch, name, len(vec), x.dim)
	}

	_, replacing := x.vecs[name]
	x.vecs[name] = append([]float64(nil), vec...)
	if replacing || x.graph == nil {
		x.rebuild()
		return nil
	}
	x.graph.Add(hnsw.MakeNode(name, toVector(vec)))
	return nil
}

// Remove drops name from the index. It reports whether name was present.
func (x *Index) Remove(name string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.vecs[name]; !ok {
		return false
	}
	delete(x.vecs, name)
	x.rebuild()
	return true
}

// Rename moves the encoding stored under oldName to newName, replacing any
// encoding newName already had.
func (x *Index) Rename(oldName, newName string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	vec, ok := x.vecs[oldName]
	if !ok {
		return false
	}
	delete(x.vecs, oldName)
	x.vecs[newName] = vec
	x.rebuild()
	return true
}

// rebuild recreates the graph from vecs in name order, so the layout does
// not depend on map iteration.
func (x *Index) rebuild() {
	if len(x.vecs) == 0 {
		x.graph = nil
		return
	}
	names := make([]string, 0, len(x.vecs))
	for name := range x.vecs {
		names = append(names, name)
	}
	sort.Strings(names)

	g := newGraph()
	for _, name := range names {
		g.Add(hnsw.MakeNode(name, toVector(x.vecs[name])))
	}
	x.graph = g
}

// Match returns the closest reference within tolerance.
func (x *Index) Match(vec []float64, tolerance float64) (name string, distance float64, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(vec) != x.dim {
		return "", 0, false
	}

	k := min(searchCandidates, len(x.vecs))
	best, bestDist := "", 0.0
	for _, n := range x.graph.Search(toVector(vec), k) {
		known, exists := x.vecs[n.Key]
		if !exists {
			continue
		}
		d := Distance(known, vec)
		if best == "" || d < bestDist || (d == bestDist && n.Key < best) {
			best, bestDist = n.Key, d
		}
	}
	if best == "" || bestDist > tolerance {
		return "", bestDist, false
	}
	return best, bestDist, true
}

// Len returns the number of stored references.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

// Names returns the stored reference names in sorted order.
func (x *Index) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.vecs))
	for name := range x.vecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
