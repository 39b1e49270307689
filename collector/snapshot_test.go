package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFirstRun(t *testing.T) {
	s := &Snapshot{Fetch: &fakeFetcher{payloads: []string{"a\nb\nc"}}}

	delta, next, err := s.ObtainDelta(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, delta)
	assert.Equal(t, &SnapshotState{Rows: []string{"a", "b", "c"}}, next)
}

func TestSnapshotSetDifference(t *testing.T) {
	s := &Snapshot{Fetch: &fakeFetcher{payloads: []string{"b\nd\na"}}}

	prev := mustState(t, &SnapshotState{Rows: []string{"a", "b", "c"}})
	delta, next, err := s.ObtainDelta(context.Background(), prev)
	require.NoError(t, err)

	// Only d is new; a and b were in the previous set, c vanished.
	assert.Equal(t, []string{"d"}, delta)
	// The new state is the current set, order preserved.
	assert.Equal(t, &SnapshotState{Rows: []string{"b", "d", "a"}}, next)
}

func TestSnapshotUnchangedYieldsNothing(t *testing.T) {
	s := &Snapshot{Fetch: &fakeFetcher{payloads: []string{"a\nb"}}}

	prev := mustState(t, &SnapshotState{Rows: []string{"a", "b"}})
	delta, next, err := s.ObtainDelta(context.Background(), prev)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Nil(t, next)
}

func TestSnapshotShrinkCommitsWithoutDelta(t *testing.T) {
	// Rows disappearing is not fresh data, but the state must follow the
	// source so the rows do not resurface as fresh when they return.
	s := &Snapshot{Fetch: &fakeFetcher{payloads: []string{"a"}}}

	prev := mustState(t, &SnapshotState{Rows: []string{"a", "b"}})
	delta, next, err := s.ObtainDelta(context.Background(), prev)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, &SnapshotState{Rows: []string{"a"}}, next)
}

func TestSnapshotDeduplicatesFetchedRows(t *testing.T) {
	s := &Snapshot{Fetch: &fakeFetcher{payloads: []string{"a\na\nb"}}}

	delta, next, err := s.ObtainDelta(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, delta)
	assert.Equal(t, &SnapshotState{Rows: []string{"a", "b"}}, next)
}
