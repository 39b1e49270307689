package natsclient

import (
	"log/slog"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the structured logger used by the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientName sets the connection name reported to the server.
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.clientName = name
	}
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithToken sets token authentication. Ignored when username/password
// credentials are also set.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithDrainTimeout sets the maximum time Close waits for in-flight
// messages to drain.
func WithDrainTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.drainTimeout = timeout
	}
}

// WithReconnect configures the reconnect policy. maxReconnects < 0 means
// reconnect forever.
func WithReconnect(maxReconnects int, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnects = maxReconnects
		c.reconnectWait = wait
	}
}

// WithCircuitBreaker configures the connection circuit breaker.
func WithCircuitBreaker(threshold int32, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		if threshold > 0 {
			c.circuitThreshold = threshold
		}
		if cooldown > 0 {
			c.circuitCooldown = cooldown
		}
	}
}
