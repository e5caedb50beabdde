// Package vector implements the approximate-nearest-neighbor index over turn
// embeddings, built on an HNSW graph keyed by turn id. Approximate search is
// acceptable here: memory retrieval is a relevance aid, not a
// correctness-critical lookup, so exactness is traded for bounded query
// latency as the corpus grows.
//
// The index is derived state. The durable copies of the vectors live as
// BLOBs in the record store; the on-disk snapshot written by Save is a cache
// that reconciliation can always rebuild.
package vector

import (
	"math"
	"sort"
	"sync"

	"komalam/pkg/protocol"

	"github.com/coder/hnsw"
)

// Metric selects the distance function. Fixed per deployment; cosine and
// euclidean results are never mixed.
type Metric string

// Supported distance metrics.
const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// Options configures an Index.
type Options struct {
	Dim    int    // embedding dimension, e.g. 384
	Metric Metric // MetricCosine (default) or MetricL2
}

// Result pairs a turn id with its distance to the query, smaller is closer.
type Result struct {
	TurnID   int64
	Distance float64
}

// Index is an in-memory ANN index over turn embeddings.
//
// Structural updates (Add, Remove, Load) take the write lock; searches share
// the read lock, so they run against a consistent graph snapshot. A search
// may miss a vector added after it started, but never observes a partial
// insert.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int64]
	vecs   map[int64][]float32
	dim    int
	metric Metric
}

// New creates an empty Index. Dim must be positive; an unset metric defaults
// to cosine.
func New(opts Options) (*Index, error) {
	if opts.Dim <= 0 {
		return nil, &protocol.InvalidArgumentError{Arg: "dim", Reason: "must be positive"}
	}
	switch opts.Metric {
	case "":
		opts.Metric = MetricCosine
	case MetricCosine, MetricL2:
	default:
		return nil, &protocol.InvalidArgumentError{Arg: "metric", Reason: string(opts.Metric) + " is not a known metric"}
	}

	ix := &Index{
		vecs:   make(map[int64][]float32),
		dim:    opts.Dim,
		metric: opts.Metric,
	}
	ix.graph = newGraph(opts.Metric)
	return ix, nil
}

func newGraph(metric Metric) *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	if metric == MetricL2 {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// Dim returns the configured embedding dimension.
func (ix *Index) Dim() int { return ix.dim }

// Metric returns the configured distance metric.
func (ix *Index) Metric() Metric { return ix.metric }

// Add inserts a vector under a turn id. A wrong-length vector is rejected
// with DimensionMismatchError before any mutation. Idempotent by id: re-add
// replaces the prior vector.
func (ix *Index) Add(id int64, vec []float32) error {
	if len(vec) != ix.dim {
		return &protocol.DimensionMismatchError{Want: ix.dim, Got: len(vec)}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.vecs[id]; ok {
		ix.graph.Delete(id)
	}
	own := make([]float32, len(vec))
	copy(own, vec)
	ix.graph.Add(hnsw.MakeNode(id, own))
	ix.vecs[id] = own
	return nil
}

// Remove deletes the vector for a turn id. Removing an absent id is a no-op.
func (ix *Index) Remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.vecs[id]; !ok {
		return
	}
	ix.graph.Delete(id)
	delete(ix.vecs, id)
}

// RemoveAll deletes a batch of ids.
func (ix *Index) RemoveAll(ids []int64) {
	for _, id := range ids {
		ix.Remove(id)
	}
}

// Search returns up to k turn ids closest to the query vector, smallest
// distance first. k <= 0 is rejected; an empty index returns an empty
// result, not an error.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, &protocol.InvalidArgumentError{Arg: "k", Reason: "must be positive"}
	}
	if len(query) != ix.dim {
		return nil, &protocol.DimensionMismatchError{Want: ix.dim, Got: len(query)}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.vecs) == 0 {
		return nil, nil
	}

	neighbors := ix.graph.Search(query, k)
	results := make([]Result, 0, len(neighbors))
	for _, node := range neighbors {
		results = append(results, Result{
			TurnID:   node.Key,
			Distance: ix.distance(query, node.Value),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].TurnID > results[j].TurnID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Has reports whether a turn id is indexed.
func (ix *Index) Has(id int64) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.vecs[id]
	return ok
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs)
}

// IDs returns all indexed turn ids, unordered. Used by reconciliation.
func (ix *Index) IDs() []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]int64, 0, len(ix.vecs))
	for id := range ix.vecs {
		out = append(out, id)
	}
	return out
}

// distance computes the configured metric between two vectors.
func (ix *Index) distance(a, b []float32) float64 {
	if ix.metric == MetricL2 {
		return euclidean(a, b)
	}
	return 1 - cosineSimilarity(a, b)
}

// cosineSimilarity computes the cosine similarity of two equal-length
// float32 vectors. Zero vectors yield similarity 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// euclidean computes the L2 distance of two equal-length float32 vectors.
func euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// NormalizeDistance maps a distance under the given metric into [0, 1],
// where 1 is a perfect match. Cosine distance lives in [0, 2]; the negative
// half (opposed vectors) clamps to 0. L2 is unbounded and squashed with
// 1/(1+d).
func NormalizeDistance(metric Metric, d float64) float64 {
	var s float64
	if metric == MetricL2 {
		s = 1 / (1 + d)
	} else {
		s = 1 - d
	}
	return math.Max(0, math.Min(1, s))
}
