package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", s, wib.Location)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func TestResolver_FallsBackToDefaultSchedule(t *testing.T) {
	r := attendance.NewResolver(nil, nil)
	sched := r.Resolve(context.Background(), mustDate(t, "2026-07-29"), "Alice", "", nil, nil)
	if sched.Source != "default" || !sched.Enabled || sched.GraceInMin != 10 {
		t.Fatalf("unexpected default schedule: %+v", sched)
	}
}

func TestResolver_WeeklyRuleMatchesLocalDay(t *testing.T) {
	r := attendance.NewResolver(nil, nil)
	day := mustDate(t, "2026-07-29") // a Wednesday ("Rabu") in WIB
	weekly := []roster.ScheduleRule{
		{Day: wib.DayName(day.Weekday()), Enabled: true, CheckIn: "08:00", CheckOut: "17:00", GraceInMin: 15},
	}
	sched := r.Resolve(context.Background(), day, "Alice", "", nil, weekly)
	if sched.Source != "weekly" || sched.CheckIn != "08:00" || sched.GraceInMin != 15 {
		t.Fatalf("unexpected weekly schedule: %+v", sched)
	}
}

func TestResolver_OverrideBeatsWeeklyAndPicksNarrowestSpan(t *testing.T) {
	r := attendance.NewResolver(nil, nil)
	day := mustDate(t, "2026-07-29")
	weekly := []roster.ScheduleRule{
		{Day: wib.DayName(day.Weekday()), Enabled: true, CheckIn: "08:00", CheckOut: "17:00"},
	}
	wide := roster.ScheduleOverride{
		ID: 1, StartDate: mustDate(t, "2026-07-01"), EndDate: mustDate(t, "2026-07-31"),
		Enabled: true, CheckIn: "09:00", Label: "Wide",
		Targets: []roster.Target{{Type: roster.TargetLabel, Value: "Alice"}},
	}
	narrow := roster.ScheduleOverride{
		ID: 2, StartDate: mustDate(t, "2026-07-28"), EndDate: mustDate(t, "2026-07-29"),
		Enabled: true, CheckIn: "10:00", Label: "Narrow",
		Targets: []roster.Target{{Type: roster.TargetLabel, Value: "Alice"}},
	}
	sched := r.Resolve(context.Background(), day, "Alice", "", []roster.ScheduleOverride{wide, narrow}, weekly)
	if sched.Source != "override" || sched.OverrideID != 2 || sched.CheckIn != "10:00" {
		t.Fatalf("expected the narrower override to win, got %+v", sched)
	}
}

func TestResolver_PersonTargetDoesNotFallBackToLabel(t *testing.T) {
	r := attendance.NewResolver(nil, nil)
	day := mustDate(t, "2026-07-29")
	ov := roster.ScheduleOverride{
		ID: 1, StartDate: mustDate(t, "2026-07-01"), EndDate: mustDate(t, "2026-07-31"),
		Enabled: true, CheckIn: "10:00",
		Targets: []roster.Target{{Type: roster.TargetPerson, Value: "p-other-id"}},
	}
	sched := r.Resolve(context.Background(), day, "Alice", "p-0001-abc-def", []roster.ScheduleOverride{ov}, nil)
	if sched.Source != "default" {
		t.Fatalf("expected no match when person_id is known but doesn't match the target, got %+v", sched)
	}
}

func TestNormalizeTarget_InfersShapeWhenUnhinted(t *testing.T) {
	person, ok := attendance.NormalizeTarget(attendance.RawTarget{Value: "p-ab12-cde-fgh"})
	if !ok || person.Type != roster.TargetPerson {
		t.Fatalf("expected person-id-shaped value to infer as a person target, got %+v", person)
	}

	group, ok := attendance.NormalizeTarget(attendance.RawTarget{Value: "550e8400-e29b-41d4-a716-446655440000"})
	if !ok || group.Type != roster.TargetGroup {
		t.Fatalf("expected UUID-shaped value to infer as a group target, got %+v", group)
	}

	label, ok := attendance.NormalizeTarget(attendance.RawTarget{Value: "Alice"})
	if !ok || label.Type != roster.TargetLabel {
		t.Fatalf("expected a plain name to infer as a label target, got %+v", label)
	}
}

func TestNormalizeTargets_DeduplicatesCaseInsensitively(t *testing.T) {
	raw := []attendance.RawTarget{
		{Value: "Alice"},
		{Value: "alice"}, // case-insensitive duplicate
		{Value: "Bob"},
	}
	out := attendance.NormalizeTargets(raw)
	if len(out) != 2 {
		t.Fatalf("expected duplicates collapsed, got %+v", out)
	}
}
