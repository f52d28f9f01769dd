// Package wib holds the fixed UTC+07:00 timezone and localized day names
// used for every local-day computation in the attendance pipeline.
package wib

import (
	"strings"
	"time"
)

// Location is the fixed +07:00 offset used throughout (no DST, no IANA
// database lookup needed — grounded on the original's bare
// datetime.timezone(timedelta(hours=7))).
var Location = time.FixedZone("WIB", 7*60*60)

// days holds the Indonesian day names Monday-first, matching the
// original's ID_DAYS list (Senin..Minggu); time.Weekday counts from
// Sunday=0, so use DayName, not this array directly, to convert a
// time.Weekday.
var days = [7]string{"Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu", "Minggu"}

// DayName returns the Indonesian day name for a time.Weekday.
func DayName(wd time.Weekday) string {
	// time.Weekday: Sunday=0 .. Saturday=6; our list starts at Monday.
	idx := (int(wd) + 6) % 7
	return days[idx]
}

// DayNames returns the full Monday-first ordered list, for callers (the
// schedule resolver's weekly-rule lookup) that need to iterate or validate
// against it rather than convert a single weekday.
func DayNames() [7]string { return days }

// Now returns the current instant localized to WIB.
func Now() time.Time { return time.Now().In(Location) }

// ISO renders t as ISO-8601 with a +07:00 offset, second precision —
// matches the original's now_iso()/to_wib_iso().
func ISO(t time.Time) string {
	return t.In(Location).Format("2006-01-02T15:04:05-07:00")
}

// ParseISO parses a timestamp that may or may not carry a zone offset.
// Timestamps with no zone info are assumed to already be WIB wall-clock
// values (mirrors the original's parse_att_ts fallback), not UTC.
func ParseISO(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, Location); err == nil {
			return t.In(Location), true
		}
	}
	return time.Time{}, false
}

// SameLocalDay reports whether a and b fall on the same WIB calendar day.
func SameLocalDay(a, b time.Time) bool {
	a, b = a.In(Location), b.In(Location)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// HHMMToMinutes converts a "HH:MM" string to minutes since midnight.
func HHMMToMinutes(hhmm string) (int, bool) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, false
	}
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// MinutesSinceMidnight returns how many minutes past local midnight t falls.
func MinutesSinceMidnight(t time.Time) int {
	t = t.In(Location)
	return t.Hour()*60 + t.Minute()
}
