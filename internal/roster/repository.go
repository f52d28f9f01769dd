package roster

import (
	"context"
	"time"
)

// Repository is the C3 port the rest of the core depends on. All
// operations are expected to be idempotent under the retry policy
// §4.3 describes; WithRetry (retry.go) supplies that policy as a decorator
// rather than baking retry into each method.
type Repository interface {
	ListIdentities(ctx context.Context, org string) ([]Identity, error)
	// ReplaceIdentities performs an atomic set-replacement: callers
	// observe either the full new state or the full old state, never a
	// partial mix.
	ReplaceIdentities(ctx context.Context, org string, identities []Identity) error
	UpsertPerson(ctx context.Context, org, personID, label, photoPath string) error

	ListEvents(ctx context.Context, org string, filter EventFilter, page Page, order Order) ([]Event, int, error)
	InsertEvent(ctx context.Context, org, label string, score float64, ts *time.Time, personID *string) (Event, error)
	EditEvent(ctx context.Context, org string, id int, patch EventPatch) error
	BulkDeleteEvents(ctx context.Context, org string, ids []int) (int, error)

	GetScheduleRules(ctx context.Context, org string) ([]ScheduleRule, error)
	SetScheduleRules(ctx context.Context, org string, rules []ScheduleRule) error
	ListScheduleOverrides(ctx context.Context, org string) ([]ScheduleOverride, error)
	UpsertScheduleOverride(ctx context.Context, org string, o ScheduleOverride) (int, error)
	DeleteScheduleOverride(ctx context.Context, org string, id int) error

	// GroupMembers resolves the person_ids belonging to a group
	// identified by id, slug, or name — used by C6's group-target
	// matching (spec §4.6).
	GroupMembers(ctx context.Context, org, groupRef string) ([]string, error)
}
