package vector

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"komalam/pkg/protocol"
)

func newTestIndex(t *testing.T, dim int) *Index {
	t.Helper()
	ix, err := New(Options{Dim: dim})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return ix
}

func TestNewValidation(t *testing.T) {
	var invalid *protocol.InvalidArgumentError

	if _, err := New(Options{Dim: 0}); !errors.As(err, &invalid) {
		t.Errorf("dim 0: expected InvalidArgumentError, got %v", err)
	}
	if _, err := New(Options{Dim: 4, Metric: "manhattan"}); !errors.As(err, &invalid) {
		t.Errorf("bad metric: expected InvalidArgumentError, got %v", err)
	}
	ix, err := New(Options{Dim: 4})
	if err != nil {
		t.Fatalf("default metric: %v", err)
	}
	if ix.Metric() != MetricCosine {
		t.Errorf("default metric = %q, want cosine", ix.Metric())
	}
}

func TestAddSearchClosestFirst(t *testing.T) {
	ix := newTestIndex(t, 3)

	vectors := map[int64][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0.9, 0.1, 0},
	}
	for id, v := range vectors {
		if err := ix.Add(id, v); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}

	results, err := ix.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].TurnID != 1 {
		t.Errorf("closest = %d, want 1", results[0].TurnID)
	}
	if results[1].TurnID != 3 {
		t.Errorf("second = %d, want 3", results[1].TurnID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ordered by distance: %v", results)
		}
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("exact match distance = %f, want ~0", results[0].Distance)
	}
}

func TestDimensionChecks(t *testing.T) {
	ix := newTestIndex(t, 4)
	var mismatch *protocol.DimensionMismatchError

	if err := ix.Add(1, []float32{1, 2}); !errors.As(err, &mismatch) {
		t.Errorf("add: expected DimensionMismatchError, got %v", err)
	}
	if mismatch.Want != 4 || mismatch.Got != 2 {
		t.Errorf("mismatch = want %d got %d", mismatch.Want, mismatch.Got)
	}
	if ix.Len() != 0 {
		t.Error("rejected add must not mutate the index")
	}

	if _, err := ix.Search([]float32{1}, 5); !errors.As(err, &mismatch) {
		t.Errorf("search: expected DimensionMismatchError, got %v", err)
	}
}

func TestSearchValidation(t *testing.T) {
	ix := newTestIndex(t, 2)

	var invalid *protocol.InvalidArgumentError
	for _, k := range []int{0, -3} {
		if _, err := ix.Search([]float32{1, 0}, k); !errors.As(err, &invalid) {
			t.Errorf("k=%d: expected InvalidArgumentError, got %v", k, err)
		}
	}

	// Empty index: empty result, not an error.
	results, err := ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("empty search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty index returned %d results", len(results))
	}
}

func TestAddIsIdempotentByID(t *testing.T) {
	ix := newTestIndex(t, 2)

	if err := ix.Add(1, []float32{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-add under the same id replaces the vector.
	if err := ix.Add(1, []float32{0, 1}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("len = %d, want 1", ix.Len())
	}

	results, err := ix.Search([]float32{0, 1}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (no duplicates)", len(results))
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("replacement vector should match exactly, distance = %f", results[0].Distance)
	}
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t, 2)

	// Absent id: quiet no-op.
	ix.Remove(42)

	if err := ix.Add(1, []float32{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ix.Remove(1)
	if ix.Len() != 0 || ix.Has(1) {
		t.Error("remove left the entry behind")
	}

	results, err := ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("removed vector still searchable: %v", results)
	}
}

func TestL2Metric(t *testing.T) {
	ix, err := New(Options{Dim: 2, Metric: MetricL2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ix.Add(1, []float32{0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(2, []float32{3, 4}); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := ix.Search([]float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].TurnID != 1 {
		t.Errorf("closest = %d, want 1", results[0].TurnID)
	}
	if math.Abs(results[1].Distance-5) > 1e-6 {
		t.Errorf("L2 distance = %f, want 5", results[1].Distance)
	}
}

func TestConcurrentAddAndSearch(t *testing.T) {
	ix := newTestIndex(t, 8)

	vec := func(seed int64) []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = float32((seed+int64(i))%7) + 0.5
		}
		return v
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(2)
		go func(base int64) {
			defer wg.Done()
			for i := range int64(50) {
				id := base*1000 + i
				if err := ix.Add(id, vec(id)); err != nil {
					t.Errorf("add %d: %v", id, err)
				}
			}
		}(int64(w))
		go func(seed int64) {
			defer wg.Done()
			for i := range 50 {
				results, err := ix.Search(vec(seed+int64(i)), 5)
				if err != nil {
					t.Errorf("search: %v", err)
					return
				}
				for _, r := range results {
					// A partially-inserted vector would show up with a
					// nonsensical distance.
					if math.IsNaN(r.Distance) || r.Distance < 0 {
						t.Errorf("corrupt distance %f for id %d", r.Distance, r.TurnID)
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if ix.Len() != 200 {
		t.Errorf("len = %d, want 200", ix.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")

	ix := newTestIndex(t, 3)
	want := map[int64][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		9: {0, 0, 1},
	}
	for id, v := range want {
		if err := ix.Add(id, v); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := ix.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := newTestIndex(t, 3)
	if err := reloaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Len() != len(want) {
		t.Fatalf("reloaded len = %d, want %d", reloaded.Len(), len(want))
	}

	results, err := reloaded.Search([]float32{0, 0, 1}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].TurnID != 9 {
		t.Errorf("search after reload = %v, want id 9", results)
	}
}

func TestLoadMissingAndMismatchedSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")

	ix := newTestIndex(t, 3)
	if err := ix.Load(path); err != nil {
		t.Fatalf("load of missing file should be nil, got %v", err)
	}
	if ix.Len() != 0 {
		t.Error("missing snapshot should leave index empty")
	}

	// Write a snapshot at dim 3, then load it into a dim-4 index: refused,
	// index stays empty for a rebuild from the store.
	if err := ix.Add(1, []float32{1, 2, 3}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	other := newTestIndex(t, 4)
	if err := other.Load(path); err != nil {
		t.Fatalf("mismatched load should be nil, got %v", err)
	}
	if other.Len() != 0 {
		t.Error("mismatched snapshot must be discarded")
	}
}

func TestNormalizeDistance(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		d      float64
		want   float64
	}{
		{"cosine identical", MetricCosine, 0, 1},
		{"cosine orthogonal", MetricCosine, 1, 0},
		{"cosine opposed clamps", MetricCosine, 2, 0},
		{"l2 identical", MetricL2, 0, 1},
		{"l2 far", MetricL2, 9, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDistance(tt.metric, tt.d); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("NormalizeDistance(%s, %f) = %f, want %f", tt.metric, tt.d, got, tt.want)
			}
		})
	}
}
