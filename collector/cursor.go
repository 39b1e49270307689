package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/pkg/timeutil"
)

// CursorState is the resumable state of the cursor/pagination strategy:
// the watermark, i.e. the latest event time known to have been fully
// processed.
type CursorState struct {
	CursorDate string `json:"cursor_date"`
}

// ItemTimeFunc extracts the sort-field time from one JSON item.
type ItemTimeFunc func(item json.RawMessage) (time.Time, error)

// JSONItemTime returns an ItemTimeFunc reading a timestamp from a
// top-level field of each item.
func JSONItemTime(field string) ItemTimeFunc {
	return func(item json.RawMessage) (time.Time, error) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			return time.Time{}, fmt.Errorf("item not an object: %w", err)
		}
		raw, ok := obj[field]
		if !ok {
			return time.Time{}, fmt.Errorf("item missing %q field", field)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("item %q field not a string: %w", field, err)
		}
		return timeutil.Parse(value)
	}
}

// Cursor implements watermark-bounded pagination merge for sources
// paginated descending by a sort field: pages are fetched until a page's
// oldest item is not newer than the watermark, items newer than the
// watermark are retained, and the watermark advances to the maximum time
// seen.
type Cursor struct {
	Pages    PageFetcher
	ItemTime ItemTimeFunc
	// MaxPages bounds a first run (no watermark to stop at). Zero means
	// the built-in default.
	MaxPages int
}

const defaultMaxPages = 100

// Kind returns KindCursor.
func (s *Cursor) Kind() StrategyKind {
	return KindCursor
}

// ObtainDelta pages through the source down to the watermark and returns
// the retained items (chronologically ascending) plus the advanced
// watermark as candidate state.
func (s *Cursor) ObtainDelta(ctx context.Context, prev json.RawMessage) ([]string, any, error) {
	prevState, err := decodeState[CursorState](prev)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "Cursor", "ObtainDelta", "decode state")
	}

	var watermark time.Time
	if prevState != nil {
		watermark, err = timeutil.Parse(prevState.CursorDate)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "Cursor", "ObtainDelta", "parse watermark")
		}
	}

	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var fresh []string
	newest := watermark

	for page := 1; page <= maxPages; page++ {
		payload, err := s.Pages.FetchPage(ctx, page)
		if err != nil {
			return nil, nil, err
		}

		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, nil, errors.WrapAnomaly(errors.ErrFormatChanged, "Cursor", "ObtainDelta",
				fmt.Sprintf("page %d is not a JSON array: %v", page, err))
		}
		if len(items) == 0 {
			break
		}

		reachedWatermark := false
		for _, item := range items {
			t, err := s.ItemTime(item)
			if err != nil {
				return nil, nil, errors.WrapAnomaly(errors.ErrFormatChanged, "Cursor", "ObtainDelta",
					fmt.Sprintf("page %d: %v", page, err))
			}

			if !watermark.IsZero() && !t.After(watermark) {
				reachedWatermark = true
				continue
			}

			fresh = append(fresh, string(item))
			if t.After(newest) {
				newest = t
			}
		}

		if reachedWatermark {
			break
		}
	}

	if len(fresh) == 0 {
		return nil, nil, nil
	}

	// Pages arrive newest-first; emit the delta in chronological order.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	return fresh, &CursorState{CursorDate: timeutil.Format(newest)}, nil
}
