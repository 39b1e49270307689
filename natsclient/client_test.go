package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, -1, client.maxReconnects)
	assert.Equal(t, "n6-pipeline", client.clientName)
	assert.False(t, client.IsHealthy())
}

func TestClientOptions(t *testing.T) {
	client, err := NewClient("nats://bus:4222",
		WithClientName("n6collector"),
		WithCredentials("collector", "secret"),
		WithTimeout(3*time.Second),
		WithReconnect(10, 500*time.Millisecond),
		WithCircuitBreaker(3, 30*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "n6collector", client.clientName)
	assert.Equal(t, "collector", client.username)
	assert.Equal(t, "secret", client.password)
	assert.Equal(t, 3*time.Second, client.timeout)
	assert.Equal(t, 10, client.maxReconnects)
	assert.Equal(t, 500*time.Millisecond, client.reconnectWait)
	assert.Equal(t, int32(3), client.circuitThreshold)
}

func TestWithTokenIgnoredWhenCredentialsSet(t *testing.T) {
	client, err := NewClient("nats://bus:4222",
		WithCredentials("user", "pass"),
		WithToken("tok"),
	)
	require.NoError(t, err)

	// Both are recorded; Connect prefers user/password.
	assert.Equal(t, "user", client.username)
	assert.Equal(t, "tok", client.token)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	client, err := NewClient("nats://bus:4222", WithCircuitBreaker(3, time.Hour))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreakerCooldownReset(t *testing.T) {
	client, err := NewClient("nats://bus:4222",
		WithCircuitBreaker(1, 10*time.Millisecond))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	// After the cooldown the next Status read closes the circuit again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(0), client.failures.Load())
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
