package collector

import (
	"context"
	"encoding/json"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// SnapshotState is the resumable state of the full-snapshot strategy: the
// complete previous result set, order preserved. Used when a source has no
// stable identifier or timestamp per item, only a renderable whole.
type SnapshotState struct {
	Rows []string `json:"rows"`
}

// Snapshot implements full-snapshot set difference: the delta is the
// current set minus the previous set, and the new state is the current set.
type Snapshot struct {
	Fetch  Fetcher
	RowSep string
}

// Kind returns KindSnapshot.
func (s *Snapshot) Kind() StrategyKind {
	return KindSnapshot
}

// ObtainDelta fetches the current result set and returns the rows absent
// from the committed set, plus the current set as candidate state.
func (s *Snapshot) ObtainDelta(ctx context.Context, prev json.RawMessage) ([]string, any, error) {
	prevState, err := decodeState[SnapshotState](prev)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "Snapshot", "ObtainDelta", "decode state")
	}

	payload, err := s.Fetch.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Order-preserving dedup of the fetched rows.
	var current []string
	currentSet := make(map[string]bool)
	for _, row := range SplitRows(payload, s.RowSep) {
		if !currentSet[row] {
			current = append(current, row)
			currentSet[row] = true
		}
	}

	prevSet := make(map[string]bool)
	if prevState != nil {
		for _, row := range prevState.Rows {
			prevSet[row] = true
		}
	}

	var fresh []string
	for _, row := range current {
		if !prevSet[row] {
			fresh = append(fresh, row)
		}
	}

	// Commit only when the set actually changed; an identical snapshot
	// must leave state untouched so re-runs stay idempotent.
	if prevState != nil && len(fresh) == 0 && len(current) == len(prevState.Rows) {
		return nil, nil, nil
	}

	return fresh, &SnapshotState{Rows: current}, nil
}
