package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/natsclient"
)

// Stream names, one per logical pipeline exchange.
const (
	StreamRaw   = "RAW"   // collector output awaiting normalization
	StreamEvent = "EVENT" // canonical events (parsed and filtered stages)
)

// EnsureStreams creates the pipeline streams if they do not exist yet.
// Subjects bind by stage segment: the RAW stream captures every
// *.raw.> subject, the EVENT stream the parsed and filtered stages.
func EnsureStreams(ctx context.Context, client *natsclient.Client) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      StreamRaw,
			Subjects:  []string{SubjectPattern(StageRaw)},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   jetstream.FileStorage,
			// Window for broker-side duplicate suppression by message id.
			Duplicates: 10 * time.Minute,
		},
		{
			Name:       StreamEvent,
			Subjects:   []string{SubjectPattern(StageParsed), SubjectPattern(StageFiltered)},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			Storage:    jetstream.FileStorage,
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := client.CreateStream(ctx, cfg); err != nil {
			return errors.Wrap(err, "bus", "EnsureStreams", "create stream "+cfg.Name)
		}
	}
	return nil
}

// StreamForStage returns the stream holding messages of the given stage.
func StreamForStage(stage Stage) string {
	if stage == StageRaw {
		return StreamRaw
	}
	return StreamEvent
}

// Publisher publishes envelopes to the bus, waiting for the broker's
// persistence acknowledgment before reporting success.
type Publisher struct {
	client *natsclient.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher on an established client.
func NewPublisher(client *natsclient.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish validates and publishes one envelope. Returning nil means the
// message is durably held by the broker; callers sequencing state commits
// after publication rely on that.
func (p *Publisher) Publish(ctx context.Context, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	if err := p.client.PublishMsgToStream(ctx, env.toNATS()); err != nil {
		return errors.WrapTransient(err, "Publisher", "Publish", "publish "+env.Key.String())
	}

	p.logger.Debug("Published envelope",
		"subject", env.Key.String(),
		"message_id", env.MessageID,
		"bytes", len(env.Payload))
	return nil
}

// Handler processes one consumed envelope. A nil return acknowledges the
// message; an error schedules redelivery.
type Handler func(ctx context.Context, env *Envelope) error

// Consumer consumes envelopes from one pipeline stage with a durable,
// sequential (one message in flight) subscription.
type Consumer struct {
	client *natsclient.Client
	logger *slog.Logger
}

// NewConsumer creates a Consumer on an established client.
func NewConsumer(client *natsclient.Client, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, logger: logger}
}

// Consume binds a durable consumer to every source at the given stage and
// invokes handler per message, blocking until ctx is cancelled or the
// handler reports a terminal error. Undecodable messages are acked and
// dropped after logging: redelivering a malformed envelope can never
// succeed. Terminal handler errors (fatal or source anomaly) end the
// consume and are returned so the process can exit instead of redelivering
// a poisoned unit forever.
func (c *Consumer) Consume(ctx context.Context, stage Stage, durable string, handler Handler) error {
	stream := StreamForStage(stage)
	subject := SubjectPattern(stage)

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	var terminal error

	err := c.client.ConsumeStream(consumeCtx, stream, durable, subject,
		func(ctx context.Context, msg jetstream.Msg) error {
			env, err := EnvelopeFromMsg(msg)
			if err != nil {
				c.logger.Error("Dropping undecodable bus message",
					"stream", stream, "subject", msg.Subject(), "error", err)
				return nil
			}
			if err := handler(ctx, env); err != nil {
				if isTerminal(err) {
					once.Do(func() {
						terminal = err
						cancel()
					})
				}
				return err
			}
			return nil
		})
	if err != nil {
		return err
	}

	<-consumeCtx.Done()
	return terminal
}

// isTerminal reports whether a handler error should end the consume run.
// Transient and row-level errors are left to redelivery.
func isTerminal(err error) bool {
	return errors.IsFatal(err) || errors.IsAnomaly(err)
}
