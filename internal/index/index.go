// Package index implements C2, the in-memory identity index: a
// label -> unit-vector map matched by cosine similarity. Grounded on
// original_source's FaceEngine.db/match/recognize (a Python dict of
// normalized centroids compared by dot product), translated into a Go
// map guarded by the Index's own sync.RWMutex rather than a GIL.
package index

import (
	"image"
	"math"
	"sort"
	"sync"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/engine"
)

// Match is one (label, score) result.
type Match struct {
	Label string
	Score float64
}

// Recognition is a detected box paired with its resolved label.
type Recognition struct {
	Box   engine.Box
	Label string
	Score float64
}

// Mirror is the optional secondary durable cache spec §4.2 allows:
// "an optional secondary durable cache (key-value store) may mirror db".
// Grounded on original_source's RedisFaceDB (face:index set +
// face:vec:{label} keys); implemented by internal/index/redismirror.go.
type Mirror interface {
	SaveVector(label string, vec []float32) error
	LoadAll() (map[string][]float32, error)
	DeleteLabel(label string) error
}

// Index holds one organization's label -> centroid map. The zero value
// is not usable; use New. db is guarded by the Index's own RWMutex, so
// its methods are safe for concurrent use. Only Recognize runs under the
// engine mutex (it takes a Held token); Put, Remove, Match, MatchAll and
// the Load methods do not take the engine mutex, and C8 and the HTTP
// handlers call them without holding it.
type Index struct {
	mu               sync.RWMutex
	db               map[string][]float32
	minCosineAccept  float64
	mirror           Mirror
}

// New constructs an empty index. minCosineAccept is the configured
// floor used whenever an operation-supplied threshold is <= 0.
func New(minCosineAccept float64, mirror Mirror) *Index {
	return &Index{
		db:              make(map[string][]float32),
		minCosineAccept: minCosineAccept,
		mirror:          mirror,
	}
}

// LoadFromMirror populates db from the optional secondary cache, if
// configured, and reports whether it loaded any entries. cmd/api does
// not call it: startup seeds db from C3 through LoadFromPairs, and the
// mirror only receives the dual writes from Put and Remove.
func (idx *Index) LoadFromMirror() (bool, error) {
	if idx.mirror == nil {
		return false, nil
	}
	vectors, err := idx.mirror.LoadAll()
	if err != nil {
		return false, err
	}
	if len(vectors) == 0 {
		return false, nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for label, v := range vectors {
		idx.db[label] = normalizeCopy(v)
	}
	return true, nil
}

// LoadFromPairs replaces db with the given (label, vector) pairs — the
// C3-backed cold-start path cmd/api uses at startup, also used by C8 to
// rebuild the index after a failed Put.
func (idx *Index) LoadFromPairs(pairs map[string][]float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.db = make(map[string][]float32, len(pairs))
	for label, v := range pairs {
		idx.db[label] = normalizeCopy(v)
	}
}

// Put installs or replaces label's centroid. The vector must be finite
// and non-zero; it is normalized to unit length if not already.
func (idx *Index) Put(label string, vector []float32) error {
	if len(vector) == 0 {
		return apperr.New(apperr.ValidationError, "empty embedding")
	}
	norm := l2Norm(vector)
	if norm == 0 || math.IsNaN(float64(norm)) || math.IsInf(float64(norm), 0) {
		return apperr.New(apperr.ValidationError, "degenerate embedding")
	}
	v := normalizeCopy(vector)

	idx.mu.Lock()
	idx.db[label] = v
	idx.mu.Unlock()

	if idx.mirror != nil {
		return idx.mirror.SaveVector(label, v)
	}
	return nil
}

// Remove drops label's entry. Idempotent.
func (idx *Index) Remove(label string) error {
	idx.mu.Lock()
	delete(idx.db, label)
	idx.mu.Unlock()

	if idx.mirror != nil {
		return idx.mirror.DeleteLabel(label)
	}
	return nil
}

// Threshold resolves an operation-supplied threshold against the
// configured floor, per spec §4.2: "an operation-supplied threshold > 0
// wins; else the configured minimum... clamped to [min_cosine_accept, 1.0]".
func (idx *Index) Threshold(requested float64) float64 {
	t := requested
	if t <= 0 {
		t = idx.minCosineAccept
	}
	if t < idx.minCosineAccept {
		t = idx.minCosineAccept
	}
	if t > 1.0 {
		t = 1.0
	}
	return t
}

// Match returns the argmax cosine-similarity label for probe, with a
// deterministic ascending-label tie-break (see DESIGN.md Open Question
// decisions). An empty index returns ("Unknown", 0).
func (idx *Index) Match(probe []float32) Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.db) == 0 {
		return Match{Label: "Unknown", Score: 0}
	}

	labels := make([]string, 0, len(idx.db))
	for l := range idx.db {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	best := Match{Label: "Unknown", Score: -2}
	for _, l := range labels {
		s := float64(dot(idx.db[l], probe))
		if s > best.Score {
			best = Match{Label: l, Score: s}
		}
	}
	return best
}

// Recognize detects every face in img (via eng), embeds each box, and
// matches it. Labels scoring below the resolved threshold are rewritten
// to "Unknown". Requires an engine mutex token — detect/embed and the
// db reads below all happen under the same hold.
func (idx *Index) Recognize(h engine.Held, eng *engine.Engine, img image.Image, threshold float64) ([]Recognition, error) {
	boxes, err := eng.Detect(h, img)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	effective := idx.Threshold(threshold)

	out := make([]Recognition, 0, len(boxes))
	for _, b := range boxes {
		vec, err := eng.Embed(h, img, b)
		if err != nil {
			continue
		}
		m := idx.Match(vec)
		if m.Score < effective {
			m.Label = "Unknown"
		}
		out = append(out, Recognition{Box: b, Label: m.Label, Score: m.Score})
	}
	return out, nil
}

// MatchAll returns every label whose cosine similarity to probe meets or
// exceeds threshold, sorted by descending score then ascending label.
// Used by C8's duplicate check (spec §4.8 step 2), which needs every
// conflicting label, not just the single best match.
func (idx *Index) MatchAll(probe []float32, threshold float64) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	labels := make([]string, 0, len(idx.db))
	for l := range idx.db {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var out []Match
	for _, l := range labels {
		s := float64(dot(idx.db[l], probe))
		if s >= threshold {
			out = append(out, Match{Label: l, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Snapshot returns a deep copy of the label -> vector map, for callers
// (the reconciler's refresh, admin introspection) that must not hold a
// live reference into db.
func (idx *Index) Snapshot() map[string][]float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string][]float32, len(idx.db))
	for l, v := range idx.db {
		cp := make([]float32, len(v))
		copy(cp, v)
		out[l] = cp
	}
	return out
}

func l2Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func normalizeCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := l2Norm(v)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
