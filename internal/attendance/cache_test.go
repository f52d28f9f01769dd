package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/roster"
)

// fakeRepo implements roster.Repository over an in-memory event slice,
// enough surface for Store/Gate tests without a database.
type fakeRepo struct {
	roster.Repository
	events     []roster.Event
	identities []roster.Identity
	nextID     int
}

func (f *fakeRepo) ListEvents(ctx context.Context, org string, filter roster.EventFilter, page roster.Page, order roster.Order) ([]roster.Event, int, error) {
	out := make([]roster.Event, len(f.events))
	copy(out, f.events)
	return out, len(out), nil
}

func (f *fakeRepo) EditEvent(ctx context.Context, org string, id int, patch roster.EventPatch) error {
	for i := range f.events {
		if f.events[i].ID != id {
			continue
		}
		if patch.Label != nil {
			f.events[i].Label = *patch.Label
		}
		if patch.PersonID != nil {
			f.events[i].PersonID = *patch.PersonID
		}
		if patch.Score != nil {
			f.events[i].Score = *patch.Score
		}
		if patch.Ts != nil {
			f.events[i].Ts = *patch.Ts
		}
		return nil
	}
	return nil
}

func (f *fakeRepo) BulkDeleteEvents(ctx context.Context, org string, ids []int) (int, error) {
	kill := make(map[int]bool, len(ids))
	for _, id := range ids {
		kill[id] = true
	}
	out := f.events[:0:0]
	for _, ev := range f.events {
		if !kill[ev.ID] {
			out = append(out, ev)
		}
	}
	n := len(f.events) - len(out)
	f.events = out
	return n, nil
}

func (f *fakeRepo) ListIdentities(ctx context.Context, org string) ([]roster.Identity, error) {
	return f.identities, nil
}

// recordedPublish captures every write-through publish, in order.
type recordedPublish struct {
	events []attendance.Event
}

func (r *recordedPublish) PublishAttendanceEvent(ctx context.Context, org string, ev attendance.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestStore_RecordBlocksDuringCooldown(t *testing.T) {
	repo := &fakeRepo{}
	pub := &recordedPublish{}
	store := attendance.NewStore(repo, pub, nil, "org1", 60, 100)

	now := time.Now()
	admitted, err := store.Record(context.Background(), "Alice", 0.9, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatalf("expected first sighting to be admitted")
	}

	admitted, err = store.Record(context.Background(), "Alice", 0.95, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatalf("expected second sighting within cooldown to be blocked")
	}

	admitted, err = store.Record(context.Background(), "Alice", 0.95, now.Add(61*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatalf("expected sighting after cooldown to be admitted")
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 write-through publishes, got %d", len(pub.events))
	}
}

func TestStore_RecordToleratesClockSkew(t *testing.T) {
	repo := &fakeRepo{}
	pub := &recordedPublish{}
	store := attendance.NewStore(repo, pub, nil, "org1", 60, 100)

	now := time.Now()
	if _, err := store.Record(context.Background(), "Bob", 0.9, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "now" moves backward relative to the stored event (clock skew).
	admitted, err := store.Record(context.Background(), "Bob", 0.9, now.Add(-5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatalf("expected clock-skewed sighting to be treated as ready")
	}
}

func TestStore_EditRebuildsDerivedMaps(t *testing.T) {
	pid := "p-0001-abc-def"
	repo := &fakeRepo{events: []roster.Event{
		{ID: 1, Label: "Alice", PersonID: &pid, Score: 0.9, Ts: time.Now()},
	}}
	store := attendance.NewStore(repo, nil, nil, "org1", 60, 100)

	ctx := context.Background()
	newLabel := "Alice Renamed"
	if err := store.Edit(ctx, 1, attendance.EventPatch{Label: &newLabel}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, lastID, count, countID, err := store.CountsSnapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count["Alice"] != 0 || count["Alice Renamed"] != 1 {
		t.Fatalf("expected rebuilt count map to reflect renamed label, got %+v", count)
	}
	if countID[pid] != 1 || lastID[pid].IsZero() {
		t.Fatalf("expected person-id derived maps to survive the rename")
	}
}

func TestStore_ClearRemovesEventsAndRebuilds(t *testing.T) {
	repo := &fakeRepo{events: []roster.Event{
		{ID: 1, Label: "Alice", Score: 0.9, Ts: time.Now()},
		{ID: 2, Label: "Bob", Score: 0.9, Ts: time.Now()},
	}}
	store := attendance.NewStore(repo, nil, nil, "org1", 60, 100)
	ctx := context.Background()

	if err := store.Clear(ctx, "Alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, count, _, err := store.CountsSnapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count["Alice"] != 0 {
		t.Fatalf("expected Alice cleared, got count %d", count["Alice"])
	}
	if count["Bob"] != 1 {
		t.Fatalf("expected Bob untouched, got count %d", count["Bob"])
	}
}

func TestGate_CheckIsReadOnly(t *testing.T) {
	repo := &fakeRepo{}
	store := attendance.NewStore(repo, nil, nil, "org1", 60, 100)
	gate := attendance.NewGate(store)
	ctx := context.Background()

	now := time.Now()
	if _, err := store.Record(ctx, "Carol", 0.9, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision, err := gate.Check(ctx, "Carol", "", now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Admit || decision.Code != "cooldown" {
		t.Fatalf("expected cooldown decision, got %+v", decision)
	}

	// Checking must not itself admit a new event.
	_, _, count, _, err := store.CountsSnapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count["Carol"] != 1 {
		t.Fatalf("expected Check to leave the event count untouched, got %d", count["Carol"])
	}

	decision, err = gate.Check(ctx, "Carol", "", now.Add(61*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Admit || decision.Code != "ok" {
		t.Fatalf("expected ok decision after cooldown elapses, got %+v", decision)
	}
}
