package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/errors"
)

// fakePub records published envelopes and can be told to fail.
type fakePub struct {
	published []*bus.Envelope
	fail      bool
}

func (p *fakePub) Publish(_ context.Context, env *bus.Envelope) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.published = append(p.published, env)
	return nil
}

// fakeStates is an in-memory state store with revision semantics.
type fakeStates struct {
	blobs     map[string]json.RawMessage
	revisions map[string]uint64
	commits   int
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		blobs:     make(map[string]json.RawMessage),
		revisions: make(map[string]uint64),
	}
}

func (s *fakeStates) Load(_ context.Context, id string) (json.RawMessage, uint64, error) {
	return s.blobs[id], s.revisions[id], nil
}

func (s *fakeStates) Commit(_ context.Context, id string, state any, _ uint64) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.blobs[id] = blob
	s.revisions[id]++
	s.commits++
	return nil
}

// feedServer serves a mutable row list over HTTP.
type feedServer struct {
	*httptest.Server
	body string
}

func newFeedServer(body string) *feedServer {
	fs := &feedServer{body: body}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fs.body))
	}))
	return fs
}

func newTestRunner(t *testing.T, url string, pub Publisher, states States) *Runner {
	t.Helper()
	desc := &Descriptor{
		Source:        "abuse-ch.feodotracker",
		EventType:     "event",
		ContentType:   "text/csv",
		FormatVersion: "202110",
		Strategy:      KindTimeOrdered,
		URL:           url,
		TimeColumn:    1,
		FieldSep:      ",",
	}
	r, err := NewRunner(desc, component.Dependencies{}, pub, states)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	return r
}

func TestRunnerPublishesDeltaAndCommitsState(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01\nB,2023-06-01 10:00:02")
	defer srv.Close()

	pub := &fakePub{}
	states := newFakeStates()
	r := newTestRunner(t, srv.URL, pub, states)

	require.NoError(t, r.RunOnce(context.Background()))

	require.Len(t, pub.published, 1)
	env := pub.published[0]
	assert.Equal(t, "event.raw.abuse-ch.feodotracker", env.Key.String())
	assert.Equal(t, "text/csv", env.ContentType)
	assert.Equal(t, "202110", env.FormatVersion)
	assert.Equal(t, "A,2023-06-01 10:00:01\nB,2023-06-01 10:00:02", string(env.Payload))
	assert.NotEmpty(t, env.MessageID)

	assert.Equal(t, 1, states.commits)
	var state TimeOrderedState
	require.NoError(t, json.Unmarshal(states.blobs["abuse-ch.feodotracker"], &state))
	assert.Equal(t, "2023-06-01 10:00:02", state.NewestRowTime)
}

func TestRunnerSecondCyclePublishesOnlyFreshRows(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01\nB,2023-06-01 10:00:02")
	defer srv.Close()

	pub := &fakePub{}
	states := newFakeStates()
	r := newTestRunner(t, srv.URL, pub, states)

	require.NoError(t, r.RunOnce(context.Background()))
	srv.body = "A,2023-06-01 10:00:01\nB,2023-06-01 10:00:02\nC,2023-06-01 10:00:03"
	require.NoError(t, r.RunOnce(context.Background()))

	require.Len(t, pub.published, 2)
	assert.Equal(t, "C,2023-06-01 10:00:03", string(pub.published[1].Payload))
}

func TestRunnerIdenticalFetchPublishesNothing(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01")
	defer srv.Close()

	pub := &fakePub{}
	states := newFakeStates()
	r := newTestRunner(t, srv.URL, pub, states)

	require.NoError(t, r.RunOnce(context.Background()))
	require.NoError(t, r.RunOnce(context.Background()))

	assert.Len(t, pub.published, 1)
	// Unchanged state is not re-committed.
	assert.Equal(t, 1, states.commits)
}

func TestRunnerDoesNotCommitWhenPublishFails(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01")
	defer srv.Close()

	pub := &fakePub{fail: true}
	states := newFakeStates()
	r := newTestRunner(t, srv.URL, pub, states)

	err := r.RunOnce(context.Background())
	require.Error(t, err)
	// State untouched: the delta will be re-obtained and re-published.
	assert.Zero(t, states.commits)

	// Broker recovers; the same delta goes out and state commits.
	pub.fail = false
	require.NoError(t, r.RunOnce(context.Background()))
	require.Len(t, pub.published, 1)
	assert.Equal(t, "A,2023-06-01 10:00:01", string(pub.published[0].Payload))
	assert.Equal(t, 1, states.commits)
}

func TestRunnerRepublishYieldsSameMessageID(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01")
	defer srv.Close()

	pub := &fakePub{}
	statesA := newFakeStates()
	statesB := newFakeStates()

	// Two runs from the same committed state produce identical payloads,
	// so the broker's dedup window can drop the second copy.
	rA := newTestRunner(t, srv.URL, pub, statesA)
	rB := newTestRunner(t, srv.URL, pub, statesB)
	require.NoError(t, rA.RunOnce(context.Background()))
	require.NoError(t, rB.RunOnce(context.Background()))

	require.Len(t, pub.published, 2)
	assert.Equal(t, pub.published[0].MessageID, pub.published[1].MessageID)
}

func TestRunnerStampsRunIDHeader(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01")
	defer srv.Close()

	pub := &fakePub{}
	rA := newTestRunner(t, srv.URL, pub, newFakeStates())
	rB := newTestRunner(t, srv.URL, pub, newFakeStates())
	require.NoError(t, rA.RunOnce(context.Background()))
	require.NoError(t, rB.RunOnce(context.Background()))

	require.Len(t, pub.published, 2)
	first := pub.published[0].Headers[bus.HeaderRunID]
	second := pub.published[1].Headers[bus.HeaderRunID]
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	// Run ids identify attempts; the content hash still dedups payloads.
	assert.NotEqual(t, first, second)
	assert.Equal(t, pub.published[0].MessageID, pub.published[1].MessageID)
}

func TestRunnerIntervalModeStopsOnRowCountAnomaly(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01\nB,2023-06-01 10:00:02")
	defer srv.Close()

	pub := &fakePub{}
	states := newFakeStates()

	desc := &Descriptor{
		Source:        "abuse-ch.feodotracker",
		EventType:     "event",
		ContentType:   "text/csv",
		FormatVersion: "202110",
		Strategy:      KindTimeOrdered,
		URL:           srv.URL,
		TimeColumn:    1,
		FieldSep:      ",",
		Interval:      10 * time.Millisecond,
	}
	r, err := NewRunner(desc, component.Dependencies{}, pub, states)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 1, states.commits)

	// The source shrinks below the committed row count. With the default
	// policy this is not tolerated, so the run must end with the anomaly
	// instead of retrying until the context expires.
	srv.body = "B,2023-06-01 10:00:02"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = r.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsAnomaly(err))
	assert.NoError(t, ctx.Err(), "run should end on the anomaly, not the deadline")
	assert.Equal(t, 1, states.commits)
}

func TestRunnerIntervalModeLogsFirstCycleFailure(t *testing.T) {
	srv := newFeedServer("A,2023-06-01 10:00:01")
	defer srv.Close()

	pub := &fakePub{fail: true}
	states := newFakeStates()

	var logs bytes.Buffer
	deps := component.Dependencies{
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}

	// A long interval guarantees only the immediate first cycle runs
	// before the context ends the loop.
	desc := &Descriptor{
		Source:        "abuse-ch.feodotracker",
		EventType:     "event",
		ContentType:   "text/csv",
		FormatVersion: "202110",
		Strategy:      KindTimeOrdered,
		URL:           srv.URL,
		TimeColumn:    1,
		FieldSep:      ",",
		Interval:      time.Hour,
	}
	r, err := NewRunner(desc, deps, pub, states)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	assert.Contains(t, logs.String(), "Collection cycle failed, will retry")
	assert.Zero(t, states.commits)
}
