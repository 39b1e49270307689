package component

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponent records lifecycle calls in a shared journal.
type fakeComponent struct {
	name    string
	journal *journal

	initErr  error
	startErr error
	stopErr  error

	started chan struct{}
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func newFakeComponent(name string, j *journal) *fakeComponent {
	return &fakeComponent{name: name, journal: j, started: make(chan struct{})}
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Initialize() error {
	f.journal.add("init " + f.name)
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.journal.add("start " + f.name)
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	f.journal.add("stop " + f.name)
	return f.stopErr
}

func TestManagerInitializeOrder(t *testing.T) {
	j := &journal{}
	m := NewManager(nil)
	m.Add(newFakeComponent("a", j))
	m.Add(newFakeComponent("b", j))

	require.NoError(t, m.Initialize())
	assert.Equal(t, []string{"init a", "init b"}, j.list())
}

func TestManagerInitializeStopsAtFirstFailure(t *testing.T) {
	j := &journal{}
	bad := newFakeComponent("bad", j)
	bad.initErr = fmt.Errorf("boom")
	m := NewManager(nil)
	m.Add(newFakeComponent("a", j))
	m.Add(bad)
	m.Add(newFakeComponent("never", j))

	err := m.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"init a", "init bad"}, j.list())
}

func TestManagerStartRequiresInitialize(t *testing.T) {
	m := NewManager(nil)
	m.Add(newFakeComponent("a", &journal{}))

	err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestManagerStopReverseOrder(t *testing.T) {
	j := &journal{}
	a := newFakeComponent("a", j)
	b := newFakeComponent("b", j)
	m := NewManager(nil)
	m.Add(a)
	m.Add(b)

	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))
	<-a.started
	<-b.started

	require.NoError(t, m.Stop(time.Second))

	entries := j.list()
	require.Len(t, entries, 6)
	assert.Equal(t, "stop b", entries[4])
	assert.Equal(t, "stop a", entries[5])
}

func TestManagerReportsRunningFailure(t *testing.T) {
	j := &journal{}
	failing := newFakeComponent("failing", j)
	failing.startErr = fmt.Errorf("bus lost")
	m := NewManager(nil)
	m.Add(failing)

	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))

	select {
	case err := <-m.Failures():
		assert.Contains(t, err.Error(), "bus lost")
	case <-time.After(2 * time.Second):
		t.Fatal("no failure delivered")
	}
}

func TestManagerStopReportsFirstErrorButStopsAll(t *testing.T) {
	j := &journal{}
	a := newFakeComponent("a", j)
	b := newFakeComponent("b", j)
	b.stopErr = fmt.Errorf("stuck")
	m := NewManager(nil)
	m.Add(a)
	m.Add(b)

	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))
	<-a.started
	<-b.started

	err := m.Stop(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")

	// The earlier component is still stopped despite the failure.
	assert.Contains(t, j.list(), "stop a")
}
