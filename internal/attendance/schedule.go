package attendance

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
)

// Resolver is C6: for a (date, identity) pair it picks the effective
// schedule from overrides, then weekly rules, then defaults, per spec
// §4.6. Grounded verbatim on original_source's _find_schedule_for_day.
type Resolver struct {
	groups  *GroupCache
	persons *PersonCache
}

func NewResolver(groups *GroupCache, persons *PersonCache) *Resolver {
	return &Resolver{groups: groups, persons: persons}
}

// Resolve is a pure function of its inputs once the group/person caches
// have settled (spec testable property 5): same (date, label, person_id,
// overrides, weekly_rules) resolve to the same EffectiveSchedule.
func (r *Resolver) Resolve(ctx context.Context, date time.Time, label, personID string, overrides []roster.ScheduleOverride, weekly []roster.ScheduleRule) EffectiveSchedule {
	date = date.In(wib.Location)

	var matches []roster.ScheduleOverride
	for _, ov := range overrides {
		if date.Before(dateOnly(ov.StartDate)) || date.After(dateOnly(ov.EndDate)) {
			continue
		}
		if !r.overrideMatches(ctx, ov, label, personID) {
			continue
		}
		matches = append(matches, ov)
	}

	if len(matches) > 0 {
		best := pickNarrowest(matches)
		return EffectiveSchedule{
			Label:       orDefault(best.Label, "Jadwal Khusus"),
			Enabled:     best.Enabled,
			CheckIn:     best.CheckIn,
			CheckOut:    best.CheckOut,
			GraceInMin:  best.GraceInMin,
			GraceOutMin: best.GraceOutMin,
			Notes:       best.Notes,
			Source:      "override",
			OverrideID:  best.ID,
		}
	}

	dayName := wib.DayName(date.Weekday())
	for _, rule := range weekly {
		if strings.EqualFold(rule.Day, dayName) {
			return EffectiveSchedule{
				Label:       orDefault(rule.Label, "Jam Kerja Normal"),
				Enabled:     rule.Enabled,
				CheckIn:     rule.CheckIn,
				CheckOut:    rule.CheckOut,
				GraceInMin:  rule.GraceInMin,
				GraceOutMin: rule.GraceOutMin,
				Notes:       rule.Notes,
				Source:      "weekly",
				Day:         dayName,
			}
		}
	}

	return DefaultSchedule
}

// dateOnly strips time-of-day so range comparisons are calendar-day
// inclusive regardless of the stored hour/minute.
func dateOnly(t time.Time) time.Time {
	t = t.In(wib.Location)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, wib.Location)
}

// pickNarrowest implements spec §4.6 step 2: "the one with the narrowest
// span (fewest days from start to end); tie -> latest start wins" (see
// DESIGN.md Open Question decisions).
func pickNarrowest(matches []roster.ScheduleOverride) roster.ScheduleOverride {
	sort.SliceStable(matches, func(i, j int) bool {
		si := matches[i].EndDate.Sub(matches[i].StartDate)
		sj := matches[j].EndDate.Sub(matches[j].StartDate)
		if si != sj {
			return si < sj
		}
		return matches[i].StartDate.After(matches[j].StartDate)
	})
	return matches[0]
}

// overrideMatches implements spec §4.6's override-target matching rule,
// grounded on original_source's _override_matches_label.
func (r *Resolver) overrideMatches(ctx context.Context, ov roster.ScheduleOverride, label, personID string) bool {
	if len(ov.Targets) == 0 {
		return true
	}

	pid := strings.TrimSpace(personID)
	if pid == "" && r.persons != nil {
		pid = r.persons.PersonID(ctx, label)
	}

	for _, t := range ov.Targets {
		switch t.Type {
		case roster.TargetPerson:
			if pid != "" {
				if t.Value == pid {
					return true
				}
				// person_id is known and doesn't match: do not fall back to label.
				continue
			}
			if strings.EqualFold(t.Value, label) {
				return true
			}
		case roster.TargetLabel:
			if strings.EqualFold(t.Value, label) {
				return true
			}
		case roster.TargetGroup:
			if r.groups == nil || pid == "" {
				continue
			}
			members, err := r.groups.Members(ctx, t.Value)
			if err != nil {
				continue
			}
			for _, m := range members {
				if m == pid {
					return true
				}
			}
		}
	}
	return false
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// RawTarget is the loose, ad-hoc-polymorphic shape an override target
// may arrive in from an admin API request — a bare string, or an object
// hinting at its type. NormalizeTarget turns it into the tagged variant
// spec §9 asks for ("never carry the raw variant inward"), grounded on
// original_source's _normalize_override_targets inference rule.
type RawTarget struct {
	Type  string
	Value string
	Label string
}

var (
	personIDPattern = regexp.MustCompile(`^p-[a-z0-9]{4}-[a-z0-9]{3}-[a-z0-9]{3}$`)
	uuidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// NormalizeTarget infers a type for an untyped target the way
// original_source does: an explicit hint wins; otherwise a value shaped
// like a person_id is inferred as a person target, a UUID-shaped value
// as a group target, and anything else as a label.
func NormalizeTarget(raw RawTarget) (roster.Target, bool) {
	value := strings.TrimSpace(raw.Value)
	if value == "" {
		return roster.Target{}, false
	}

	hinted := strings.ToLower(strings.TrimSpace(raw.Type))
	switch hinted {
	case "person", "person_id":
		return roster.Target{Type: roster.TargetPerson, Value: value}, true
	case "group", "group_id":
		return roster.Target{Type: roster.TargetGroup, Value: value}, true
	case "label", "name":
		return roster.Target{Type: roster.TargetLabel, Value: value}, true
	}

	if personIDPattern.MatchString(value) {
		return roster.Target{Type: roster.TargetPerson, Value: value}, true
	}
	if uuidPattern.MatchString(value) {
		return roster.Target{Type: roster.TargetGroup, Value: value}, true
	}
	return roster.Target{Type: roster.TargetLabel, Value: value}, true
}

// NormalizeTargets normalizes and de-duplicates a raw target list,
// capped at 64 entries (original_source's normalized list cap).
func NormalizeTargets(raw []RawTarget) []roster.Target {
	out := make([]roster.Target, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		t, ok := NormalizeTarget(r)
		if !ok {
			continue
		}
		key := string(t.Type) + "|" + strings.ToLower(t.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) >= 64 {
			break
		}
	}
	return out
}
