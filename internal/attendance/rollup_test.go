package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
)

func at(t *testing.T, date, hhmm string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, wib.Location)
	if err != nil {
		t.Fatalf("bad timestamp: %v", err)
	}
	return ts
}

func TestBuildDailyRows_DerivesLateAndLeftEarly(t *testing.T) {
	resolver := attendance.NewResolver(nil, nil)
	weekly := []roster.ScheduleRule{
		{Day: wib.DayName(at(t, "2026-07-29", "08:00").Weekday()), Enabled: true, CheckIn: "08:00", CheckOut: "17:00", GraceInMin: 10, GraceOutMin: 5},
	}

	events := []attendance.Event{
		{ID: 1, Label: "Alice", Ts: at(t, "2026-07-29", "08:20")}, // 10 min past grace
		{ID: 2, Label: "Alice", Ts: at(t, "2026-07-29", "16:30")}, // left 25 min early
	}

	rows := attendance.BuildDailyRows(context.Background(), resolver, events, nil, weekly, false)
	if len(rows) != 1 {
		t.Fatalf("expected a single rolled-up row, got %d", len(rows))
	}
	row := rows[0]
	if row.StatusCode != "late_and_left_early" {
		t.Fatalf("expected late_and_left_early, got %q (%+v)", row.StatusCode, row)
	}
	if row.LateMinutes != 10 {
		t.Fatalf("expected 10 late minutes, got %d", row.LateMinutes)
	}
	if row.LeftEarlyMinutes != 25 {
		t.Fatalf("expected 25 left-early minutes, got %d", row.LeftEarlyMinutes)
	}
}

func TestBuildDailyRows_PresentWithinGrace(t *testing.T) {
	resolver := attendance.NewResolver(nil, nil)
	weekly := []roster.ScheduleRule{
		{Day: wib.DayName(at(t, "2026-07-29", "08:00").Weekday()), Enabled: true, CheckIn: "08:00", CheckOut: "17:00", GraceInMin: 10, GraceOutMin: 5},
	}
	events := []attendance.Event{
		{ID: 1, Label: "Bob", Ts: at(t, "2026-07-29", "08:05")},
		{ID: 2, Label: "Bob", Ts: at(t, "2026-07-29", "17:02")},
	}
	rows := attendance.BuildDailyRows(context.Background(), resolver, events, nil, weekly, false)
	if len(rows) != 1 || rows[0].StatusCode != "present" {
		t.Fatalf("expected a present row, got %+v", rows)
	}
}

func TestBuildDailyRows_GroupsByPersonIDOverLabel(t *testing.T) {
	resolver := attendance.NewResolver(nil, nil)
	pid := "p-0001-abc-def"
	events := []attendance.Event{
		{ID: 1, Label: "Alice", PersonID: &pid, Ts: at(t, "2026-07-29", "08:00")},
		{ID: 2, Label: "Alice Renamed", PersonID: &pid, Ts: at(t, "2026-07-29", "09:00")},
	}
	rows := attendance.BuildDailyRows(context.Background(), resolver, events, nil, nil, false)
	if len(rows) != 1 {
		t.Fatalf("expected events sharing a person_id to roll up into one row, got %d", len(rows))
	}
	if rows[0].Events != 2 {
		t.Fatalf("expected both events counted, got %d", rows[0].Events)
	}
}
