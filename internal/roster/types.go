// Package roster implements C3, the durable roster repository: per-
// organization identities, attendance events, and the schedule-rule /
// override / override-target configuration C6 resolves against.
// Adapted from the teacher's internal/storage/postgres.go (same
// pgxpool + pgvector CRUD pattern), restructured around the spec's
// identity/event/schedule schema instead of the teacher's
// collection/person/stream one.
package roster

import "time"

// Identity is one enrolled person, per spec §3.
type Identity struct {
	ID        int
	PersonID  string
	Label     string
	Embedding []float32
	PhotoPath string
	PhotoURL  string
	BBox      [4]float64 // x, y, w, h
	Ts        time.Time
}

// Event is one attendance record, per spec §3.
type Event struct {
	ID       int
	Label    string
	PersonID *string
	Score    float64
	Ts       time.Time
}

// EventPatch carries the admin-editable fields of an event; nil means
// "leave unchanged".
type EventPatch struct {
	Label    *string
	PersonID **string
	Score    *float64
	Ts       *time.Time
}

// EventFilter narrows ListEvents; StartDate/EndDate are inclusive local
// calendar days in WIB, per spec §4.3.
type EventFilter struct {
	Label     string
	StartDate *time.Time
	EndDate   *time.Time
}

// TargetType is the tagged-variant discriminant for ScheduleOverride
// targets, per spec §9's "ad-hoc polymorphism on event payloads" note:
// represented as Person(id) | Group(id) | Label(text), normalized at
// the repository boundary rather than carried as a raw string/object.
type TargetType string

const (
	TargetPerson TargetType = "person"
	TargetGroup  TargetType = "group"
	TargetLabel  TargetType = "label"
)

// Target is one override scoping rule.
type Target struct {
	Type  TargetType
	Value string
}

// ScheduleRule is one weekly-pattern row, per spec §3.
type ScheduleRule struct {
	Day          string // localized day name, e.g. wib.DayName output
	Enabled      bool
	CheckIn      string // "HH:MM"
	CheckOut     string
	GraceInMin   int
	GraceOutMin  int
	Label        string
	Notes        string
}

// ScheduleOverride is one date-range override, per spec §3.
type ScheduleOverride struct {
	ID          int
	StartDate   time.Time
	EndDate     time.Time
	Enabled     bool
	CheckIn     string
	CheckOut    string
	GraceInMin  int
	GraceOutMin int
	Label       string
	Notes       string
	Targets     []Target
}

// Order controls ListEvents ordering.
type Order string

const (
	OrderTsDesc Order = "ts_desc"
	OrderTsAsc  Order = "ts_asc"
)

// Page is a 1-indexed page request.
type Page struct {
	Number   int
	PageSize int
}
