package index_test

import (
	"math"
	"testing"

	"github.com/your-org/fd-attendance/internal/index"
)

func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func TestMatch_EmptyIndexReturnsUnknown(t *testing.T) {
	idx := index.New(0.6, nil)
	m := idx.Match(unit([]float32{1, 0, 0}))
	if m.Label != "Unknown" || m.Score != 0 {
		t.Fatalf("expected Unknown/0, got %+v", m)
	}
}

func TestMatch_AscendingLabelTieBreak(t *testing.T) {
	idx := index.New(0.6, nil)
	v := unit([]float32{1, 0, 0})
	if err := idx.Put("zeta", v); err != nil {
		t.Fatalf("put zeta: %v", err)
	}
	if err := idx.Put("alpha", v); err != nil {
		t.Fatalf("put alpha: %v", err)
	}

	m := idx.Match(v)
	if m.Label != "alpha" {
		t.Fatalf("expected tie-break to pick ascending label alpha, got %s", m.Label)
	}
}

func TestPut_NormalizesVector(t *testing.T) {
	idx := index.New(0.6, nil)
	if err := idx.Put("a", []float32{3, 4, 0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := idx.Snapshot()
	v := snap["a"]
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
}

func TestPut_RejectsZeroVector(t *testing.T) {
	idx := index.New(0.6, nil)
	if err := idx.Put("a", []float32{0, 0, 0}); err == nil {
		t.Fatalf("expected error for zero vector")
	}
}

func TestRemove_Idempotent(t *testing.T) {
	idx := index.New(0.6, nil)
	_ = idx.Put("a", []float32{1, 0, 0})
	if err := idx.Remove("a"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := idx.Remove("a"); err != nil {
		t.Fatalf("second remove should be idempotent: %v", err)
	}
}

func TestThreshold_ClampsToConfiguredFloor(t *testing.T) {
	idx := index.New(0.6, nil)
	if got := idx.Threshold(0); got != 0.6 {
		t.Fatalf("expected default floor 0.6, got %f", got)
	}
	if got := idx.Threshold(0.3); got != 0.6 {
		t.Fatalf("expected clamp up to floor, got %f", got)
	}
	if got := idx.Threshold(0.9); got != 0.9 {
		t.Fatalf("expected operation threshold to win, got %f", got)
	}
	if got := idx.Threshold(1.5); got != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %f", got)
	}
}

type fakeMirror struct {
	saved   map[string][]float32
	deleted []string
}

func newFakeMirror() *fakeMirror { return &fakeMirror{saved: make(map[string][]float32)} }

func (f *fakeMirror) SaveVector(label string, vec []float32) error {
	f.saved[label] = vec
	return nil
}
func (f *fakeMirror) LoadAll() (map[string][]float32, error) { return f.saved, nil }
func (f *fakeMirror) DeleteLabel(label string) error {
	f.deleted = append(f.deleted, label)
	delete(f.saved, label)
	return nil
}

func TestPut_DualWritesToMirror(t *testing.T) {
	mirror := newFakeMirror()
	idx := index.New(0.6, mirror)
	if err := idx.Put("a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := mirror.saved["a"]; !ok {
		t.Fatalf("expected mirror to receive dual-write")
	}
}

func TestMatchAll_ReturnsEveryLabelAboveThresholdSorted(t *testing.T) {
	idx := index.New(0.5, nil)
	v := unit([]float32{1, 0, 0})
	near := unit([]float32{0.95, 0.05, 0})
	far := unit([]float32{0, 1, 0})
	_ = idx.Put("exact", v)
	_ = idx.Put("near", near)
	_ = idx.Put("far", far)

	matches := idx.MatchAll(v, 0.5)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches above threshold, got %+v", matches)
	}
	if matches[0].Label != "exact" {
		t.Fatalf("expected the closest match first, got %+v", matches)
	}
}

func TestLoadFromMirror_PopulatesDB(t *testing.T) {
	mirror := newFakeMirror()
	mirror.saved["a"] = []float32{1, 0, 0}
	idx := index.New(0.6, mirror)

	loaded, err := idx.LoadFromMirror()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded {
		t.Fatalf("expected loaded=true")
	}
	m := idx.Match([]float32{1, 0, 0})
	if m.Label != "a" {
		t.Fatalf("expected match against mirror-loaded vector, got %s", m.Label)
	}
}
