// Package natsclient manages the NATS connection used as the pipeline
// message bus and state store, with a circuit breaker guarding repeated
// connection failures.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error variables for connection handling.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client manages a NATS connection, its JetStream context, and the
// subscriptions and consumers created through it.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	// Circuit breaker
	failures         atomic.Int32
	lastFailure      atomic.Value // time.Time
	circuitThreshold int32
	circuitCooldown  time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	username      string
	password      string
	token         string
	clientName    string

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient", "NATS URL required")
	}

	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		circuitCooldown:  time.Minute,
		clientName:       "n6-pipeline",
	}
	c.status.Store(StatusDisconnected)

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status, accounting for the
// circuit breaker cooldown.
func (c *Client) Status() ConnectionStatus {
	status, _ := c.status.Load().(ConnectionStatus)
	if status == StatusCircuitOpen {
		if last, ok := c.lastFailure.Load().(time.Time); ok && time.Since(last) > c.circuitCooldown {
			c.resetCircuit()
			status, _ = c.status.Load().(ConnectionStatus)
		}
	}
	return status
}

// IsHealthy reports whether the connection is established and usable.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return c.Status() == StatusConnected && conn != nil && conn.IsConnected()
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

func (c *Client) recordFailure() {
	n := c.failures.Add(1)
	c.lastFailure.Store(time.Now())
	if n >= c.circuitThreshold {
		c.setStatus(StatusCircuitOpen)
		c.logger.Warn("NATS circuit breaker opened",
			"failures", n, "cooldown", c.circuitCooldown)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	if s, _ := c.status.Load().(ConnectionStatus); s == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Connect establishes the connection to the NATS server and initializes
// the JetStream context.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !c.closed.Load() {
				c.setStatus(StatusDisconnected)
				c.logger.Warn("NATS connection closed unexpectedly")
			}
		}),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	} else if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// WaitForConnection blocks until the connection is established or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.consumersMu.Lock()
	for name, consumer := range c.consumers {
		consumer.Stop()
		c.logger.Debug("Stopped consumer", "consumer", name)
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() { drainDone <- c.conn.Drain() }()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
				c.conn.Close()
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.Wrap(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain connection"))
			c.conn.Close()
		}
		c.conn = nil
		c.js = nil
	}

	c.setStatus(StatusDisconnected)
	c.password = ""
	c.token = ""
	return stderrors.Join(errs...)
}

// Subscribe subscribes to a core NATS subject. Each handler invocation
// receives a context derived from ctx with a processing timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Publish publishes a message to a core NATS subject (fire and forget).
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateStream creates or updates a JetStream stream.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the
// broker acknowledgment. Durable hand-off: the call does not return
// success until the stream has persisted the message.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data, opts...); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}

	c.resetCircuit()
	return nil
}

// PublishMsgToStream publishes a prepared NATS message (with headers) to
// JetStream and waits for the acknowledgment.
func (c *Client) PublishMsgToStream(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.PublishMsg(ctx, msg, opts...); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishMsgToStream", "publish "+msg.Subject)
	}

	c.resetCircuit()
	return nil
}

// redeliveryDelay spaces out redeliveries of a failing message.
const redeliveryDelay = 2 * time.Second

// ConsumeStream creates a durable consumer on a stream and processes
// messages one at a time in subject order. The handler's error decides the
// acknowledgment: nil acks, anything else naks for delayed redelivery
// (at-least-once semantics).
func (c *Client) ConsumeStream(
	ctx context.Context, streamName, durable, subject string,
	handler func(context.Context, jetstream.Msg) error,
) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "ConsumeStream", "check client state")
	}

	js, err := c.JetStream()
	if err != nil {
		return err
	}

	consumerCfg := jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// One unacked message at a time keeps per-subject processing
		// sequential, which the dedup state machines depend on.
		MaxAckPending: 1,
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, consumerCfg)
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "ConsumeStream", "create consumer "+durable)
	}

	consumeContext, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg); err != nil {
			c.logger.Warn("Message handler failed, scheduling redelivery",
				"stream", streamName, "subject", msg.Subject(), "error", err)
			// Delayed nak: with one message in flight an immediate nak
			// would redeliver a failing unit in a hot loop.
			_ = msg.NakWithDelay(redeliveryDelay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "ConsumeStream", "start consumer "+durable)
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	if c.closed.Load() {
		consumeContext.Stop()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "ConsumeStream", "register consumer")
	}

	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := fmt.Sprintf("%s:%s", streamName, subject)
	if existing, exists := c.consumers[key]; exists {
		existing.Stop()
		c.logger.Debug("Replaced existing consumer", "consumer", key)
	}
	c.consumers[key] = consumeContext

	c.resetCircuit()
	return nil
}

// CreateKeyValueBucket creates a KV bucket, or returns the existing one.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketExists) {
			return js.KeyValue(ctx, cfg.Bucket)
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	return bucket, nil
}

// GetKeyValueBucket returns an existing KV bucket.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapInvalid(err, "Client", "GetKeyValueBucket", "bucket "+name)
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "get bucket "+name)
	}
	return bucket, nil
}
