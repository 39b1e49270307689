// Package timeutil provides timestamp parsing and normalization helpers
// for feed data. Event times are always normalized to UTC.
//
// Local readings taken during a DST fall-back transition are ambiguous:
// the same wall clock maps to two UTC instants. Such readings resolve to
// the later instant, never the earlier one.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventTimeLayout is the canonical rendering of event times.
const EventTimeLayout = "2006-01-02 15:04:05"

// Layouts tried by Parse, most specific first.
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"02-01-2006 15:04",
}

// Parse parses a timestamp string in one of the supported layouts and
// returns it in UTC. Layouts without an explicit zone are read as UTC.
// Plain integers are treated as Unix epoch seconds.
func Parse(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}

	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", v)
}

// ParseInLocation parses a zone-less timestamp as a wall-clock reading in
// loc and converts it to UTC, resolving ambiguous readings to the later
// instant.
func ParseInLocation(layout, value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ResolveLocal(t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
}

// ResolveLocal converts a wall-clock reading taken in loc to a UTC
// instant. A reading inside a fall-back transition has two valid UTC
// equivalents; the later one wins. A reading inside a spring-forward gap
// has none; the standard library's shifted interpretation is used.
func ResolveLocal(year, month, day, hour, min, sec, nsec int, loc *time.Location) time.Time {
	wall := time.Date(year, time.Month(month), day, hour, min, sec, nsec, time.UTC)
	probe := time.Date(year, time.Month(month), day, hour, min, sec, nsec, loc)

	var best time.Time
	found := false
	seenOffsets := make(map[int]bool)

	// Probe the zone offsets in effect around the reading. A candidate
	// instant is valid when it renders back to the same wall clock.
	for _, p := range []time.Time{probe.Add(-24 * time.Hour), probe, probe.Add(24 * time.Hour)} {
		_, offset := p.In(loc).Zone()
		if seenOffsets[offset] {
			continue
		}
		seenOffsets[offset] = true

		cand := wall.Add(-time.Duration(offset) * time.Second)
		l := cand.In(loc)
		if l.Year() == year && int(l.Month()) == month && l.Day() == day &&
			l.Hour() == hour && l.Minute() == min && l.Second() == sec {
			if !found || cand.After(best) {
				best = cand
				found = true
			}
		}
	}

	if !found {
		return probe.UTC()
	}
	return best.UTC()
}

// Format renders t in the canonical event time layout, in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(EventTimeLayout)
}
