// Package stream implements C9: the per-session frame handler that
// rate-limits, decodes, recognizes, stabilizes, and admits-or-blocks
// each frame a connected client sends, emitting one result event per
// processed frame. Grounded on original_source's per-socket frame
// handler in app.py/register_db.py (the "prev_labels"/"hold_frames"
// stabilizer and the msg-delay login-storm suppression are both named
// directly after that code's own variables), reshaped into a locked Go
// session struct the way internal/attendance and internal/index hold
// their per-process state.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/engine"
	"github.com/your-org/fd-attendance/internal/index"
	"github.com/your-org/fd-attendance/internal/wib"
)

// Session holds one connected client's C9 state, per spec §4.9.
type Session struct {
	mu sync.Mutex

	threshold   float64
	markEnabled bool

	lastProc      time.Time
	prevLabels    map[string]bool
	holdFrames    int
	inFlight      bool
	msgDelayUntil time.Time
}

// NewSession starts a session with the configured defaults; msg_delay_until
// is connect-time + loginDelay (default 2s, spec §4.9).
func NewSession(threshold float64, markEnabled bool, now time.Time, loginDelay time.Duration) *Session {
	return &Session{
		threshold:     threshold,
		markEnabled:   markEnabled,
		prevLabels:    make(map[string]bool),
		msgDelayUntil: now.Add(loginDelay),
	}
}

// Configure applies a client "cfg" update (spec §6's C→S cfg message).
// A non-nil threshold is clamped to [0,1].
func (s *Session) Configure(threshold *float64, mark *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threshold != nil {
		t := *threshold
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		s.threshold = t
	}
	if mark != nil {
		s.markEnabled = *mark
	}
}

// Box is one detected-and-matched face in a frame.
type Box struct {
	X, Y, W, H float64
	Label      string
	Score      float64
}

// Marked is one admitted attendance mark.
type Marked struct {
	Label string
	Score float64
	Ts    time.Time
}

// Blocked is one sighting C7 refused to admit.
type Blocked struct {
	Label string
	Code  string
}

// FrameResult is C9 step 10's output.
type FrameResult struct {
	Results []Box
	Marked  []Marked
	Blocked []Blocked
	T       time.Time
	// Suppressed is true while msg_delay_until has not yet elapsed; the
	// caller should omit Blocked reasons from what it shows the client.
	Suppressed bool
}

// Recognizer is C9, wired to C1 (via Engine), C2, and C7/C5.
type Recognizer struct {
	eng     *engine.Engine
	idx     *index.Index
	gate    *attendance.Gate
	store   *attendance.Store
	persons *attendance.PersonCache

	minInterval time.Duration
}

func NewRecognizer(eng *engine.Engine, idx *index.Index, gate *attendance.Gate, store *attendance.Store, persons *attendance.PersonCache, minInterval time.Duration) *Recognizer {
	return &Recognizer{eng: eng, idx: idx, gate: gate, store: store, persons: persons, minInterval: minInterval}
}

// ProcessFrame runs steps 1-10 of spec §4.9 against frameBytes. A nil,
// nil return means the frame was silently dropped (rate limit or a
// frame already in flight) and nothing should be emitted.
func (r *Recognizer) ProcessFrame(ctx context.Context, s *Session, frameBytes []byte, now time.Time) (*FrameResult, error) {
	s.mu.Lock()
	if s.inFlight || (!s.lastProc.IsZero() && now.Sub(s.lastProc) < r.minInterval) {
		s.mu.Unlock()
		return nil, nil
	}
	s.inFlight = true
	s.lastProc = now
	prevLabels := s.prevLabels
	holdFrames := s.holdFrames
	markEnabled := s.markEnabled
	threshold := s.threshold
	suppressed := now.Before(s.msgDelayUntil)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	img, err := engine.DecodeImage(frameBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, "decode frame", err)
	}

	var recognitions []index.Recognition
	err = r.eng.WithLock(ctx, func(h engine.Held) error {
		var err error
		recognitions, err = r.idx.Recognize(h, r.eng, img, threshold)
		return err
	})
	if err != nil {
		return nil, err
	}

	cur := make(map[string]float64)
	results := make([]Box, 0, len(recognitions))
	var orderedLabels []string
	for _, rec := range recognitions {
		results = append(results, Box{X: rec.Box.X, Y: rec.Box.Y, W: rec.Box.W, H: rec.Box.H, Label: rec.Label, Score: rec.Score})
		if rec.Label == "Unknown" || rec.Score < threshold {
			continue
		}
		if _, seen := cur[rec.Label]; !seen {
			orderedLabels = append(orderedLabels, rec.Label)
		}
		cur[rec.Label] = rec.Score
	}

	// Stabilizer (step 6): hold_frames takes priority over the jaccard
	// check; otherwise compare this frame's label set to the previous one.
	markAllowedThisFrame := false
	if holdFrames > 0 {
		holdFrames--
	} else {
		markAllowedThisFrame = jaccard(cur, prevLabels) < 0.7
	}

	var marked []Marked
	var blocked []Blocked
	anyEvent := false

	if markEnabled {
		for _, label := range orderedLabels {
			personID := ""
			if r.persons != nil {
				personID = r.persons.PersonID(ctx, label)
			}
			decision, err := r.gate.Check(ctx, label, personID, now)
			if err != nil {
				continue
			}
			if !decision.Admit {
				blocked = append(blocked, Blocked{Label: label, Code: decision.Code})
				anyEvent = true
				continue
			}

			// decision.Admit already means the cooldown is ready (spec
			// §4.9 step 8's condition (c)); (a)/(b) exist so a label
			// does not wait out the stabilizer once it is due.
			isNew := !prevLabels[label]
			if !(markAllowedThisFrame || isNew || decision.Admit) {
				continue
			}

			admitted, err := r.store.Record(ctx, label, cur[label], now)
			if err != nil || !admitted {
				continue
			}
			marked = append(marked, Marked{Label: label, Score: cur[label], Ts: now})
			anyEvent = true
		}
	}

	curLabels := make(map[string]bool, len(cur))
	for label := range cur {
		curLabels[label] = true
	}

	s.mu.Lock()
	s.prevLabels = curLabels
	s.holdFrames = holdFrames
	if anyEvent {
		s.holdFrames = 1
	}
	s.mu.Unlock()

	return &FrameResult{Results: results, Marked: marked, Blocked: blocked, T: now.In(wib.Location), Suppressed: suppressed}, nil
}

// jaccard computes |a∩b| / |a∪b| over two label sets.
func jaccard(a map[string]float64, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for label := range a {
		if b[label] {
			inter++
		}
	}
	union := len(b)
	for label := range a {
		if !b[label] {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
