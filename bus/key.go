// Package bus is the thin adapter between the pipeline engines and the
// message bus. Messages travel on topic subjects addressed by dot-separated
// routing keys of the form <event-type>.<stage>.<source-dotted-name>; each
// pipeline stage consumes at one stage segment and republishes at the next
// by rewriting that segment.
//
// Delivery is at-least-once: publishing waits for the broker's stream
// acknowledgment, consumers ack only after successful processing, and every
// message carries a content-addressed id so downstream stages can detect a
// re-published duplicate.
package bus

import (
	"fmt"
	"strings"
)

// Stage identifies a pipeline stage segment within a routing key.
type Stage string

// Pipeline stages, in flow order.
const (
	StageRaw      Stage = "raw"      // collector output: opaque source deltas
	StageParsed   Stage = "parsed"   // parser output: canonical events
	StageFiltered Stage = "filtered" // filter output: events with routing result
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRaw, StageParsed, StageFiltered:
		return true
	}
	return false
}

// RoutingKey addresses a message on the bus: <event-type>.<stage>.<source>.
// The source segment may itself be dotted (e.g. "abuse-ch.feodotracker").
type RoutingKey struct {
	EventType string
	Stage     Stage
	Source    string
}

// NewRoutingKey builds a routing key from its segments.
func NewRoutingKey(eventType string, stage Stage, source string) RoutingKey {
	return RoutingKey{EventType: eventType, Stage: stage, Source: source}
}

// ParseRoutingKey parses "event.raw.abuse-ch.feodotracker" style keys.
// Everything after the second segment belongs to the source name.
func ParseRoutingKey(key string) (RoutingKey, error) {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RoutingKey{}, fmt.Errorf("malformed routing key %q", key)
	}

	stage := Stage(parts[1])
	if !stage.Valid() {
		return RoutingKey{}, fmt.Errorf("unknown stage %q in routing key %q", parts[1], key)
	}

	return RoutingKey{EventType: parts[0], Stage: stage, Source: parts[2]}, nil
}

// String renders the routing key as a bus subject.
func (k RoutingKey) String() string {
	return k.EventType + "." + string(k.Stage) + "." + k.Source
}

// WithStage returns a copy of the key with the stage segment rewritten.
// This is the stage-boundary rewrite: event.raw.x -> event.parsed.x.
func (k RoutingKey) WithStage(stage Stage) RoutingKey {
	k.Stage = stage
	return k
}

// Validate checks that all segments are present and the stage is known.
func (k RoutingKey) Validate() error {
	if k.EventType == "" || k.Source == "" {
		return fmt.Errorf("routing key missing segments: %q", k.String())
	}
	if !k.Stage.Valid() {
		return fmt.Errorf("routing key has unknown stage: %q", k.String())
	}
	return nil
}

// SubjectPattern returns the subject filter matching every source at the
// given stage, for consumer bindings.
func SubjectPattern(stage Stage) string {
	return "*." + string(stage) + ".>"
}
