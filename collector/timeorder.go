package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/pkg/timeutil"
)

// TimeOrderedState is the resumable state of the time-ordered-row
// strategy: the timestamp of the previously newest row, the set of full
// row strings sharing that timestamp, and the total row count observed.
//
// Keeping every row tied at the newest timestamp (never just the single
// newest) is what makes single-timestamp bursts survive: with only one
// row retained, the next run would re-classify its tied siblings.
type TimeOrderedState struct {
	NewestRowTime string   `json:"newest_row_time"`
	NewestRows    []string `json:"newest_rows"`
	RowsCount     int      `json:"rows_count"`
}

// RowTimeFunc extracts the event time from one raw row.
type RowTimeFunc func(row string) (time.Time, error)

// CSVRowTime returns a RowTimeFunc reading a timestamp from a delimited
// column. loc applies to zone-less layouts; ambiguous readings resolve to
// the later UTC instant.
func CSVRowTime(fieldSep string, column int, layout string, loc *time.Location) RowTimeFunc {
	if fieldSep == "" {
		fieldSep = ","
	}
	if loc == nil {
		loc = time.UTC
	}
	return func(row string) (time.Time, error) {
		fields := strings.Split(row, fieldSep)
		if column >= len(fields) {
			return time.Time{}, fmt.Errorf("row has %d fields, time column is %d", len(fields), column)
		}
		value := strings.TrimSpace(fields[column])
		if layout == "" {
			return timeutil.Parse(value)
		}
		return timeutil.ParseInLocation(layout, value, loc)
	}
}

// TimeOrdered implements the time-ordered-row overlap strategy for sources
// returning a row list conceptually ascending in time.
type TimeOrdered struct {
	Fetch   Fetcher
	RowTime RowTimeFunc
	RowSep  string
	// AllowShrunkList downgrades the row-count-mismatch problem to
	// warn-and-continue for sources that deliberately retain only a
	// limited rolling window. Fatal by default; never inferred.
	AllowShrunkList bool
	CommentPrefix   string // rows starting with this prefix are ignored
}

// Kind returns KindTimeOrdered.
func (s *TimeOrdered) Kind() StrategyKind {
	return KindTimeOrdered
}

// ObtainDelta fetches the row list and returns the rows strictly newer
// than the committed state, with the candidate new state.
func (s *TimeOrdered) ObtainDelta(ctx context.Context, prev json.RawMessage) ([]string, any, error) {
	prevState, err := decodeState[TimeOrderedState](prev)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "TimeOrdered", "ObtainDelta", "decode state")
	}

	payload, err := s.Fetch.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows := s.splitRows(payload)

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		t, err := s.RowTime(row)
		if err != nil {
			return nil, nil, errors.WrapAnomaly(errors.ErrFormatChanged, "TimeOrdered", "ObtainDelta",
				fmt.Sprintf("unparseable row time in row %d: %v", i, err))
		}
		times[i] = t
	}

	var fresh []string
	if prevState == nil {
		// First run: the whole fetch is fresh.
		fresh = rows
	} else {
		fresh, err = s.diff(rows, times, prevState)
		if err != nil {
			return nil, nil, err
		}
	}

	next := buildTimeOrderedState(rows, times)
	if next == nil || (prevState != nil && statesEqual(prevState, next)) {
		return fresh, nil, nil
	}
	return fresh, next, nil
}

func (s *TimeOrdered) splitRows(payload []byte) []string {
	rows := SplitRows(payload, s.RowSep)
	if s.CommentPrefix == "" {
		return rows
	}
	filtered := rows[:0]
	for _, row := range rows {
		if !strings.HasPrefix(row, s.CommentPrefix) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// diff classifies rows against the previous state: rows older than the
// previous newest time are dropped, rows at that time are dropped only if
// they belong to the previous newest-rows set, everything else is fresh.
func (s *TimeOrdered) diff(rows []string, times []time.Time, prevState *TimeOrderedState) ([]string, error) {
	prevTime, err := timeutil.Parse(prevState.NewestRowTime)
	if err != nil {
		return nil, errors.WrapFatal(err, "TimeOrdered", "diff", "parse state time")
	}

	prevSet := make(map[string]bool, len(prevState.NewestRows))
	for _, row := range prevState.NewestRows {
		prevSet[row] = true
	}

	var fresh []string
	foundPrev := false
	for i, row := range rows {
		t := times[i]
		switch {
		case t.Before(prevTime):
			// Already collected in an earlier run.
		case t.Equal(prevTime):
			if prevSet[row] {
				foundPrev = true
			} else {
				fresh = append(fresh, row)
			}
		default:
			fresh = append(fresh, row)
		}
	}

	if !foundPrev {
		// The previously newest rows vanished: the source truncated or
		// reordered its history.
		if !s.AllowShrunkList {
			return nil, errors.WrapAnomaly(errors.ErrRowCountMismatch, "TimeOrdered", "diff",
				fmt.Sprintf("previous newest rows (at %s) not found in %d fetched rows",
					prevState.NewestRowTime, len(rows)))
		}
		// Rolling-window source: treat the whole fetch as fresh.
		return rows, nil
	}

	if len(rows) < prevState.RowsCount && !s.AllowShrunkList {
		return nil, errors.WrapAnomaly(errors.ErrRowCountMismatch, "TimeOrdered", "diff",
			fmt.Sprintf("row count shrank from %d to %d", prevState.RowsCount, len(rows)))
	}

	return fresh, nil
}

// buildTimeOrderedState computes the candidate state: newest timestamp,
// every row tied at it, and the total row count. Returns nil for an empty
// fetch (state must not regress).
func buildTimeOrderedState(rows []string, times []time.Time) *TimeOrderedState {
	if len(rows) == 0 {
		return nil
	}

	newest := times[0]
	for _, t := range times[1:] {
		if t.After(newest) {
			newest = t
		}
	}

	var tied []string
	seen := make(map[string]bool)
	for i, row := range rows {
		if times[i].Equal(newest) && !seen[row] {
			tied = append(tied, row)
			seen[row] = true
		}
	}

	return &TimeOrderedState{
		NewestRowTime: timeutil.Format(newest),
		NewestRows:    tied,
		RowsCount:     len(rows),
	}
}

func statesEqual(a, b *TimeOrderedState) bool {
	if a.NewestRowTime != b.NewestRowTime || a.RowsCount != b.RowsCount ||
		len(a.NewestRows) != len(b.NewestRows) {
		return false
	}
	set := make(map[string]bool, len(a.NewestRows))
	for _, row := range a.NewestRows {
		set[row] = true
	}
	for _, row := range b.NewestRows {
		if !set[row] {
			return false
		}
	}
	return true
}
