package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// Message property header names carried end to end.
const (
	HeaderMessageID     = "Nats-Msg-Id" // content hash; also drives broker dedup
	HeaderTimestamp     = "N6-Timestamp"
	HeaderContentType   = "N6-Content-Type"
	HeaderFormatVersion = "N6-Format-Version"
	HeaderRunID         = "N6-Run-Id" // collection cycle that produced the unit
)

// Envelope is one message on the bus: a payload plus the properties that
// survive every stage boundary. At the raw stage the payload is an opaque
// source delta; at later stages it is a serialized canonical event.
type Envelope struct {
	Key           RoutingKey
	Payload       []byte
	ContentType   string            // e.g. "text/csv", "application/json"
	FormatVersion string            // format-version tag binding raw data to a schema version
	CapturedAt    time.Time         // capture time at the collector
	MessageID     string            // hex sha256 of the payload
	Headers       map[string]string // additional free-form headers
}

// ComputeMessageID returns the deterministic content hash of a payload.
// Re-publishing the same payload yields the same id, which makes duplicate
// deliveries detectable downstream.
func ComputeMessageID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NewEnvelope builds an envelope for a payload, computing its message id
// and stamping the capture time.
func NewEnvelope(key RoutingKey, payload []byte, contentType, formatVersion string) *Envelope {
	return &Envelope{
		Key:           key,
		Payload:       payload,
		ContentType:   contentType,
		FormatVersion: formatVersion,
		CapturedAt:    time.Now().UTC(),
		MessageID:     ComputeMessageID(payload),
	}
}

// Validate checks the envelope is complete enough to publish.
func (e *Envelope) Validate() error {
	if err := e.Key.Validate(); err != nil {
		return errors.WrapInvalid(err, "Envelope", "Validate", "routing key")
	}
	if len(e.Payload) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "empty payload")
	}
	if e.MessageID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing message id")
	}
	return nil
}

// toNATS renders the envelope as a NATS message with property headers.
func (e *Envelope) toNATS() *nats.Msg {
	msg := nats.NewMsg(e.Key.String())
	msg.Data = e.Payload
	msg.Header.Set(HeaderMessageID, e.MessageID)
	msg.Header.Set(HeaderTimestamp, strconv.FormatInt(e.CapturedAt.Unix(), 10))
	if e.ContentType != "" {
		msg.Header.Set(HeaderContentType, e.ContentType)
	}
	if e.FormatVersion != "" {
		msg.Header.Set(HeaderFormatVersion, e.FormatVersion)
	}
	for k, v := range e.Headers {
		msg.Header.Set(k, v)
	}
	return msg
}

// EnvelopeFromMsg reconstructs an envelope from a consumed stream message.
func EnvelopeFromMsg(msg jetstream.Msg) (*Envelope, error) {
	key, err := ParseRoutingKey(msg.Subject())
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "EnvelopeFromMsg", "parse subject")
	}

	env := &Envelope{
		Key:           key,
		Payload:       msg.Data(),
		ContentType:   msg.Headers().Get(HeaderContentType),
		FormatVersion: msg.Headers().Get(HeaderFormatVersion),
		MessageID:     msg.Headers().Get(HeaderMessageID),
	}

	if ts := msg.Headers().Get(HeaderTimestamp); ts != "" {
		secs, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Envelope", "EnvelopeFromMsg", "parse timestamp header")
		}
		env.CapturedAt = time.Unix(secs, 0).UTC()
	}

	if env.MessageID == "" {
		env.MessageID = ComputeMessageID(env.Payload)
	}

	if runID := msg.Headers().Get(HeaderRunID); runID != "" {
		env.Headers = map[string]string{HeaderRunID: runID}
	}

	return env, nil
}
