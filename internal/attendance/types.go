// Package attendance implements C5 (the write-through attendance cache),
// C6 (the schedule resolver), and C7 (the admission gate), grounded on
// original_source's attendance_service.py — the only file in the pack
// that implements any of this (no example repo has an attendance or
// scheduling concept), so the algorithms below follow that file's
// behavior line for line while the shape (locked struct + interfaces)
// follows the teacher's general package style.
package attendance

import "time"

// Event is the in-memory cache's view of one attendance record, mirroring
// roster.Event but decoupled from the repository package so the cache
// can be unit-tested without pulling in pgx.
type Event struct {
	ID       int
	Label    string
	PersonID *string
	Score    float64
	Ts       time.Time
}

// EventPatch mirrors roster.EventPatch; nil fields mean "leave unchanged".
type EventPatch struct {
	Label    *string
	PersonID **string
	Score    *float64
	Ts       *time.Time
}

// EffectiveSchedule is C6's resolve() result, per spec §4.6.
type EffectiveSchedule struct {
	Label       string
	Enabled     bool
	CheckIn     string // "HH:MM"
	CheckOut    string
	GraceInMin  int
	GraceOutMin int
	Notes       string
	Source      string // "override" | "weekly" | "default"
	OverrideID  int    // 0 when Source != "override"
	Day         string // localized weekly-rule day name, when Source == "weekly"
}

// DefaultSchedule is the fallback schedule per spec §4.6 step 3:
// "{enabled:true, grace_in:10, grace_out:5}".
var DefaultSchedule = EffectiveSchedule{
	Label:       "Jam Kerja Normal",
	Enabled:     true,
	GraceInMin:  10,
	GraceOutMin: 5,
	Source:      "default",
}

// DailyRow is one person-per-day rollup row, grounding S6 and
// original_source's build_daily_rows.
type DailyRow struct {
	Label             string
	PersonID          string
	Date              string // "2006-01-02" in WIB
	CheckIn           string // first event's "HH:MM"
	CheckOut          string // last event's "HH:MM"
	Schedule          EffectiveSchedule
	StatusTags        []string
	StatusCode        string
	Events            int
	LateMinutes       int
	LeftEarlyMinutes  int
	WorkMinutes       int
}
