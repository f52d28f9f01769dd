package attendance

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
)

type dailyKey struct {
	identity string // person_id, or "label::"+lower(label) when person_id is unknown
	date     string
}

type dailyAgg struct {
	label    string
	personID string
	first    time.Time
	last     time.Time
	count    int
}

// BuildDailyRows is C6/C5's daily rollup: events are grouped by
// (identity, local day), then each group's late/left-early status is
// derived from resolver.Resolve against that day's first event.
// Grounded verbatim on original_source's build_daily_rows; implemented
// as a read-only aggregation over already-loaded events rather than a
// persisted table, per SPEC_FULL.md.
func BuildDailyRows(ctx context.Context, resolver *Resolver, events []Event, overrides []roster.ScheduleOverride, weekly []roster.ScheduleRule, desc bool) []DailyRow {
	agg := make(map[dailyKey]*dailyAgg)
	order := make([]dailyKey, 0)

	for _, ev := range events {
		label := strings.TrimSpace(ev.Label)
		if label == "" {
			continue
		}
		t := ev.Ts.In(wib.Location)
		dateKey := t.Format("2006-01-02")

		pid := ""
		if ev.PersonID != nil {
			pid = *ev.PersonID
		}
		identity := pid
		if identity == "" {
			identity = "label::" + strings.ToLower(label)
		}
		k := dailyKey{identity: identity, date: dateKey}

		item, ok := agg[k]
		if !ok {
			item = &dailyAgg{label: label, personID: pid, first: t, last: t, count: 1}
			agg[k] = item
			order = append(order, k)
			continue
		}
		item.count++
		if t.Before(item.first) {
			item.first = t
		}
		if t.After(item.last) {
			item.last = t
		}
		if item.personID == "" && pid != "" {
			item.personID = pid
		}
	}

	rows := make([]DailyRow, 0, len(order))
	for _, k := range order {
		item := agg[k]
		sched := resolver.Resolve(ctx, item.first, item.label, item.personID, overrides, weekly)

		row := DailyRow{
			Label:    item.label,
			PersonID: item.personID,
			Date:     k.date,
			CheckIn:  item.first.Format("15:04"),
			CheckOut: item.last.Format("15:04"),
			Schedule: sched,
			Events:   item.count,
		}

		late, lateMin := deriveLate(item.first, sched)
		leftEarly, leftMin := deriveLeftEarly(item.last, sched)
		row.LateMinutes = lateMin
		row.LeftEarlyMinutes = leftMin
		row.WorkMinutes = maxInt(0, int(item.last.Sub(item.first).Minutes()))

		switch {
		case !sched.Enabled:
			row.StatusCode = "off"
			row.StatusTags = []string{"Off Day"}
			if item.count > 0 {
				row.StatusTags = append(row.StatusTags, "Present")
			}
		case late && leftEarly:
			row.StatusCode = "late_and_left_early"
			row.StatusTags = []string{"Late", "Left Early"}
		case late:
			row.StatusCode = "late"
			row.StatusTags = []string{"Late"}
		case leftEarly:
			row.StatusCode = "left_early"
			row.StatusTags = []string{"Left Early"}
		default:
			row.StatusCode = "present"
			row.StatusTags = []string{"Present"}
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return rows[i].Date > rows[j].Date
		}
		return rows[i].Date < rows[j].Date
	})
	return rows
}

// deriveLate implements spec §4.6: "late iff first > check_in +
// grace_in_min; late_minutes = max(0, floor((first-gate)/60))".
func deriveLate(first time.Time, sched EffectiveSchedule) (bool, int) {
	if !sched.Enabled || sched.CheckIn == "" {
		return false, 0
	}
	mins, ok := wib.HHMMToMinutes(sched.CheckIn)
	if !ok {
		return false, 0
	}
	gate := dayAt(first, mins+sched.GraceInMin)
	if first.After(gate) {
		return true, maxInt(0, int(first.Sub(gate).Minutes()))
	}
	return false, 0
}

// deriveLeftEarly implements spec §4.6: "left-early iff last <
// check_out - grace_out_min".
func deriveLeftEarly(last time.Time, sched EffectiveSchedule) (bool, int) {
	if !sched.Enabled || sched.CheckOut == "" {
		return false, 0
	}
	mins, ok := wib.HHMMToMinutes(sched.CheckOut)
	if !ok {
		return false, 0
	}
	gate := dayAt(last, mins-sched.GraceOutMin)
	if last.Before(gate) {
		return true, maxInt(0, int(gate.Sub(last).Minutes()))
	}
	return false, 0
}

func dayAt(ref time.Time, minutesSinceMidnight int) time.Time {
	ref = ref.In(wib.Location)
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, minutesSinceMidnight, 0, 0, wib.Location)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
