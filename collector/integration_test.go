package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/natsclient"
	"github.com/CERT-Polska/n6-sub011/statestore"
)

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

// TestIntegrationPublishThenCommit exercises the full collection cycle
// against a real broker: the delta must be durably held by the broker
// before the state commit, and a repeated cycle must publish nothing.
func TestIntegrationPublishThenCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, natsURL := startNATSContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	client, err := natsclient.NewClient(natsURL)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer func() { _ = client.Close(ctx) }()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForConnection(connCtx))
	require.NoError(t, bus.EnsureStreams(ctx, client))

	states, err := statestore.Open(ctx, client, nil)
	require.NoError(t, err)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w,
			"2024-03-01 10:00:00,1.2.3.4\n"+
				"2024-03-01 11:00:00,5.6.7.8\n")
	}))
	defer feed.Close()

	desc := &Descriptor{
		Source:        "abuse-ch.feodotracker",
		EventType:     "event",
		ContentType:   "text/csv",
		FormatVersion: "202403",
		Strategy:      "time-ordered",
		URL:           feed.URL,
		TimeColumn:    0,
		TimeLayout:    "2006-01-02 15:04:05",
		FieldSep:      ",",
	}
	require.NoError(t, desc.Validate())

	deps := component.Dependencies{NATSClient: client}
	runner, err := NewRunner(desc, deps, bus.NewPublisher(client, nil), states)
	require.NoError(t, err)
	require.NoError(t, runner.Initialize())

	// Consume blocks until its context ends, so it runs alongside the
	// runner under test.
	received := make(chan *bus.Envelope, 8)
	consumer := bus.NewConsumer(client, nil)
	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consumer.Consume(consumeCtx, bus.StageRaw, "it-raw",
			func(_ context.Context, env *bus.Envelope) error {
				received <- env
				return nil
			})
	}()

	require.NoError(t, runner.RunOnce(ctx))

	// The committed state must be visible only after the broker holds
	// the published delta: by the time Load succeeds, the envelope is
	// already consumable.
	state, revision, err := states.Load(ctx, desc.ID())
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.NotZero(t, revision)

	select {
	case env := <-received:
		assert.Equal(t, "event.raw.abuse-ch.feodotracker", env.Key.String())
		assert.Contains(t, string(env.Payload), "1.2.3.4")
		assert.Contains(t, string(env.Payload), "5.6.7.8")
		assert.Equal(t, "text/csv", env.ContentType)
	case <-time.After(10 * time.Second):
		t.Fatal("no raw envelope received from broker")
	}

	// Unchanged feed: the second cycle must publish nothing and leave
	// the committed state at the same revision.
	require.NoError(t, runner.RunOnce(ctx))

	_, revisionAfter, err := states.Load(ctx, desc.ID())
	require.NoError(t, err)
	assert.Equal(t, revision, revisionAfter)

	select {
	case env := <-received:
		t.Fatalf("unexpected envelope published on unchanged feed: %s", env.Key)
	case <-time.After(2 * time.Second):
	}

	stopConsume()
	require.NoError(t, <-consumeErr)
}
