// Package collector implements the incremental-collection engine: it pulls
// raw data from an external source, diffs it against previously committed
// state using one of several deduplication strategies, and emits only the
// fresh delta, committing new state strictly after the delta has been
// durably handed to the bus.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
)

// StrategyKind selects the deduplication strategy for a source.
type StrategyKind string

// Supported strategy kinds.
const (
	// KindTimeOrdered diffs a time-ascending row list against the
	// previously newest timestamp and its tied row set.
	KindTimeOrdered StrategyKind = "time-ordered"
	// KindSnapshot diffs the full current result set against the full
	// previous one.
	KindSnapshot StrategyKind = "snapshot"
	// KindCursor merges descending pages down to a time watermark.
	KindCursor StrategyKind = "cursor"
)

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindTimeOrdered, KindSnapshot, KindCursor:
		return true
	}
	return false
}

// Strategy produces the smallest correct delta of new data for one source.
//
// ObtainDelta fetches fresh data and diffs it against the previous
// committed state (nil on first run). It returns the fresh items and the
// candidate new state, or nil state when nothing changed. It has no side
// effect beyond the fetch itself; committing the candidate state is the
// caller's separate, later step, gated on a successful publish.
type Strategy interface {
	Kind() StrategyKind
	ObtainDelta(ctx context.Context, prev json.RawMessage) (delta []string, next any, err error)
}

// decodeState unmarshals a previous state blob into the strategy's state
// shape, tolerating a nil blob (first run).
func decodeState[T any](prev json.RawMessage) (*T, error) {
	if len(prev) == 0 {
		return nil, nil
	}
	var state T
	if err := json.Unmarshal(prev, &state); err != nil {
		return nil, fmt.Errorf("decode collector state: %w", err)
	}
	return &state, nil
}
