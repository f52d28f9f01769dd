package attendance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/roster"
)

// EventPublisher is C5's write-through sink: a fire-and-forget publish
// that the caller does not wait on. Per spec §4.5/§5, ordering within a
// single person_id must still be preserved; SPEC_FULL.md assigns that
// guarantee to internal/queue's per-organization ordered NATS subject
// consumed by a single durable worker, so Store itself only needs to
// publish in the order it admits — it does not fan out goroutines here.
type EventPublisher interface {
	PublishAttendanceEvent(ctx context.Context, org string, ev Event) error
}

// snapshot is the cache's full in-memory view, per spec §3's Attendance
// cache data model.
type snapshot struct {
	events  []Event // newest first
	last    map[string]time.Time
	lastID  map[string]time.Time
	count   map[string]int
	countID map[string]int
	seq     int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		last:    make(map[string]time.Time),
		lastID:  make(map[string]time.Time),
		count:   make(map[string]int),
		countID: make(map[string]int),
	}
}

// Store is C5: a single-process snapshot with four derived maps, backed
// by roster.Repository for cold start and write-through. Grounded on
// original_source's load_attendance_db/mark_attendance/save_attendance_db.
// The lock below is spec §5's attendance cache lock AL: "held around any
// read or write of the snapshot... deep-copy on read; never hand a live
// reference out".
type Store struct {
	repo      roster.Repository
	publisher EventPublisher
	org       string
	persons   *PersonCache

	cooldownSec int
	maxEvents   int

	mu   sync.Mutex
	snap *snapshot
}

func NewStore(repo roster.Repository, publisher EventPublisher, persons *PersonCache, org string, cooldownSec, maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = 5000
	}
	return &Store{
		repo:        repo,
		publisher:   publisher,
		org:         org,
		persons:     persons,
		cooldownSec: cooldownSec,
		maxEvents:   maxEvents,
	}
}

// Load returns a deep copy of the cached snapshot, rebuilding it from
// the repository first when force is true or nothing is cached yet, per
// spec §4.5: "if a cached snapshot exists and force is false, return a
// deep copy; else rebuild from C3 (top N by descending ts)".
func (s *Store) Load(ctx context.Context, force bool) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil || force {
		events, _, err := s.repo.ListEvents(ctx, s.org, roster.EventFilter{}, roster.Page{Number: 1, PageSize: s.maxEvents}, roster.OrderTsDesc)
		if err != nil {
			return nil, err
		}
		snap := emptySnapshot()
		for _, ev := range events {
			snap.events = append(snap.events, toAttendanceEvent(ev))
		}
		rebuildDerived(snap)
		s.snap = snap
	}
	return cloneEvents(s.snap.events), nil
}

func toAttendanceEvent(ev roster.Event) Event {
	return Event{ID: ev.ID, Label: ev.Label, PersonID: ev.PersonID, Score: ev.Score, Ts: ev.Ts}
}

func cloneEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// rebuildDerived recomputes last/lastID/count/countID from scratch over
// snap.events, per spec §9: "Rebuild-from-scratch after edits... bug-
// prone to patch incrementally, forbidden".
func rebuildDerived(snap *snapshot) {
	snap.last = make(map[string]time.Time)
	snap.lastID = make(map[string]time.Time)
	snap.count = make(map[string]int)
	snap.countID = make(map[string]int)

	for _, ev := range snap.events {
		snap.count[ev.Label]++
		if snap.last[ev.Label].Before(ev.Ts) {
			snap.last[ev.Label] = ev.Ts
		}
		if ev.PersonID != nil && *ev.PersonID != "" {
			pid := *ev.PersonID
			snap.countID[pid]++
			if snap.lastID[pid].Before(ev.Ts) {
				snap.lastID[pid] = ev.Ts
			}
		}
	}
}

// cooldownStatus implements the cooldown computation shared by C5.record
// and C7.check, per spec §4.5/§4.7. ref is the zero time when there is
// no prior sighting (immediate admit).
func cooldownStatus(ref, now time.Time, cooldownSec int) (ready bool, remaining time.Duration, until time.Time) {
	if ref.IsZero() {
		return true, 0, time.Time{}
	}
	elapsed := now.Sub(ref)
	if elapsed < 0 {
		// Clock skew: stored timestamp is ahead of now. Treat as ready.
		elapsed = time.Duration(cooldownSec) * time.Second
	}
	cooldown := time.Duration(cooldownSec) * time.Second
	if elapsed >= cooldown {
		return true, 0, time.Time{}
	}
	until = ref.Add(cooldown)
	return false, cooldown - elapsed, until
}

// Record is C5.record: decide admission via the cooldown reference
// (last_id[person_id] if resolvable, else last[label]), and if ready,
// append the event, update derived maps, and fire the write-through.
func (s *Store) Record(ctx context.Context, label string, score float64, now time.Time) (bool, error) {
	if _, err := s.Load(ctx, false); err != nil {
		return false, err
	}

	pid := ""
	if s.persons != nil {
		pid = s.persons.PersonID(ctx, label)
	}

	s.mu.Lock()
	var ref time.Time
	if pid != "" {
		ref = s.snap.lastID[pid]
	} else {
		ref = s.snap.last[label]
	}

	ready, _, _ := cooldownStatus(ref, now, s.cooldownSec)
	if !ready {
		s.mu.Unlock()
		return false, nil
	}

	s.snap.seq++
	ev := Event{ID: s.snap.seq, Label: label, Score: round3(score), Ts: now}
	if pid != "" {
		ev.PersonID = &pid
	}

	s.snap.events = append([]Event{ev}, s.snap.events...)
	if len(s.snap.events) > s.maxEvents {
		s.snap.events = s.snap.events[:s.maxEvents]
	}
	s.snap.count[label]++
	s.snap.last[label] = now
	if pid != "" {
		s.snap.countID[pid]++
		s.snap.lastID[pid] = now
	}
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishAttendanceEvent(ctx, s.org, ev); err != nil {
			slog.Warn("attendance write-through publish failed", "label", label, "error", err)
		}
	}
	return true, nil
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// Edit applies patch to the event matching id, persists it, then rebuilds
// every derived map from scratch over the remaining events, per spec
// §4.5/§9.
func (s *Store) Edit(ctx context.Context, id int, patch EventPatch) error {
	if _, err := s.Load(ctx, false); err != nil {
		return err
	}

	rp := roster.EventPatch{Label: patch.Label, PersonID: patch.PersonID, Score: patch.Score, Ts: patch.Ts}
	if err := s.repo.EditEvent(ctx, s.org, id, rp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.snap.events {
		if s.snap.events[i].ID != id {
			continue
		}
		found = true
		if patch.Label != nil {
			s.snap.events[i].Label = *patch.Label
		}
		if patch.PersonID != nil {
			s.snap.events[i].PersonID = *patch.PersonID
		}
		if patch.Score != nil {
			s.snap.events[i].Score = *patch.Score
		}
		if patch.Ts != nil {
			s.snap.events[i].Ts = *patch.Ts
		}
		break
	}
	if !found {
		return apperr.New(apperr.NotFound, "event not found")
	}
	rebuildDerived(s.snap)
	return nil
}

// Delete removes one event by id and rebuilds derived maps.
func (s *Store) Delete(ctx context.Context, id int) error {
	if _, err := s.Load(ctx, false); err != nil {
		return err
	}
	if _, err := s.repo.BulkDeleteEvents(ctx, s.org, []int{id}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap.events[:0:0]
	for _, ev := range s.snap.events {
		if ev.ID != id {
			out = append(out, ev)
		}
	}
	s.snap.events = out
	rebuildDerived(s.snap)
	return nil
}

// Clear removes every event (optionally scoped to one label) and
// rebuilds derived maps.
func (s *Store) Clear(ctx context.Context, label string) error {
	if _, err := s.Load(ctx, false); err != nil {
		return err
	}

	s.mu.Lock()
	var ids []int
	if label == "" {
		for _, ev := range s.snap.events {
			ids = append(ids, ev.ID)
		}
	} else {
		for _, ev := range s.snap.events {
			if ev.Label == label {
				ids = append(ids, ev.ID)
			}
		}
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		if _, err := s.repo.BulkDeleteEvents(ctx, s.org, ids); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if label == "" {
		s.snap.events = nil
	} else {
		out := s.snap.events[:0:0]
		for _, ev := range s.snap.events {
			if ev.Label != label {
				out = append(out, ev)
			}
		}
		s.snap.events = out
	}
	rebuildDerived(s.snap)
	return nil
}

// Invalidate drops the cached snapshot so the next Load rebuilds.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
}

// LastSeen returns the cooldown reference timestamp for (label, personID)
// without mutating anything — used by C7.check.
func (s *Store) LastSeen(ctx context.Context, label, personID string) (time.Time, error) {
	if _, err := s.Load(ctx, false); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if personID != "" {
		return s.snap.lastID[personID], nil
	}
	return s.snap.last[label], nil
}

// CountsSnapshot returns copies of the four derived maps, for admin
// introspection/tests — never the live maps, per the AL discipline.
func (s *Store) CountsSnapshot(ctx context.Context) (last, lastID map[string]time.Time, count, countID map[string]int, err error) {
	if _, err := s.Load(ctx, false); err != nil {
		return nil, nil, nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last = cloneTimeMap(s.snap.last)
	lastID = cloneTimeMap(s.snap.lastID)
	count = cloneIntMap(s.snap.count)
	countID = cloneIntMap(s.snap.countID)
	return
}

func cloneTimeMap(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
