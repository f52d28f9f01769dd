package attendance

import (
	"context"
	"time"
)

// Gate is C7: a read-only admission check, independent of C5's actual
// recording, so a stream session can decide whether to even attempt a
// mark before spending a cooldown write. Grounded on original_source's
// _check_mark_block, which the pack splits into a pure predicate used
// by both the preview endpoint (dry run) and mark_attendance (dry run
// first, then commit).
type Gate struct {
	store *Store
}

func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// Decision is C7.check's result, per spec §4.7.
type Decision struct {
	Admit     bool
	Code      string // "ok" | "cooldown"
	Remaining time.Duration
	Until     time.Time
}

// Check reports whether label (optionally resolved to personID) may be
// marked right now, without mutating the cache.
func (g *Gate) Check(ctx context.Context, label, personID string, now time.Time) (Decision, error) {
	ref, err := g.store.LastSeen(ctx, label, personID)
	if err != nil {
		return Decision{}, err
	}
	ready, remaining, until := cooldownStatus(ref, now, g.store.cooldownSec)
	if ready {
		return Decision{Admit: true, Code: "ok"}, nil
	}
	return Decision{Admit: false, Code: "cooldown", Remaining: remaining, Until: until}, nil
}
