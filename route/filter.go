package route

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/event"
)

// Publisher is the bus surface the filter needs. Satisfied by
// *bus.Publisher.
type Publisher interface {
	Publish(ctx context.Context, env *bus.Envelope) error
}

// Source consumes one pipeline stage. Satisfied by *bus.Consumer.
type Source interface {
	Consume(ctx context.Context, stage bus.Stage, durable string, handler bus.Handler) error
}

// Snapshots hands out the current criteria snapshot. Satisfied by *Loader.
type Snapshots interface {
	Snapshot() *Snapshot
}

const filterDurable = "n6-filter"

// Filter is the routing component: it consumes parsed events, attaches
// the routing result, and republishes at the filtered stage.
type Filter struct {
	criteria Snapshots
	source   Source
	pub      Publisher
	logger   *slog.Logger
	metrics  *filterMetrics
}

// NewFilter wires a criteria source to the bus.
func NewFilter(
	criteria Snapshots, deps component.Dependencies, source Source, pub Publisher) (*Filter, error) {
	metrics, err := newFilterMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Filter", "NewFilter", "register metrics")
	}

	return &Filter{
		criteria: criteria,
		source:   source,
		pub:      pub,
		logger:   deps.GetLoggerWithComponent("filter"),
		metrics:  metrics,
	}, nil
}

// Name returns the component name.
func (f *Filter) Name() string {
	return "filter"
}

// Initialize validates the wiring.
func (f *Filter) Initialize() error {
	if f.criteria == nil || f.source == nil || f.pub == nil {
		return errors.WrapFatal(errors.ErrInvalidData, "Filter", "Initialize",
			"criteria, source and publisher are required")
	}
	return nil
}

// Start consumes the parsed stage until ctx is cancelled.
func (f *Filter) Start(ctx context.Context) error {
	return f.source.Consume(ctx, bus.StageParsed, filterDurable, f.Handle)
}

// Stop is immediate; in-flight events finish through consumer draining.
func (f *Filter) Stop(_ time.Duration) error {
	return nil
}

// Handle routes one parsed event. An event that cannot be decoded as a
// canonical event, or matches nobody, is still republished with an empty
// client list; silently discarding a security event is worse than
// under-routing it.
func (f *Filter) Handle(ctx context.Context, env *bus.Envelope) error {
	start := time.Now()
	snap := f.criteria.Snapshot()

	var ev event.Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		f.logger.Error("Undecodable parsed event, routing with empty client list",
			"source", env.Key.Source,
			"message_id", env.MessageID,
			"error", err)
		out := env.Key.WithStage(bus.StageFiltered)
		forward := bus.NewEnvelope(out, env.Payload, env.ContentType, env.FormatVersion)
		if pubErr := f.pub.Publish(ctx, forward); pubErr != nil {
			f.metrics.recordEvent("error", 0, snap.Len(), time.Since(start))
			return pubErr
		}
		f.metrics.recordEvent("unrouted", 0, snap.Len(), time.Since(start))
		return nil
	}

	result := Match(&ev, snap)
	ev.Clients = result.OrgIDs
	if ev.Clients == nil {
		// Routed with an empty org list, not left unrouted: the wire
		// form carries an explicit "client": [].
		ev.Clients = []string{}
	}
	ev.URLMatches = result.URLFragments

	payload, err := json.Marshal(&ev)
	if err != nil {
		f.metrics.recordEvent("error", 0, snap.Len(), time.Since(start))
		return errors.WrapFatal(err, "Filter", "Handle", "marshal routed event")
	}

	out := bus.NewEnvelope(
		env.Key.WithStage(bus.StageFiltered), payload, "application/json", env.FormatVersion)
	if err := f.pub.Publish(ctx, out); err != nil {
		f.metrics.recordEvent("error", len(result.OrgIDs), snap.Len(), time.Since(start))
		return err
	}

	status := "unrouted"
	if len(result.OrgIDs) > 0 {
		status = "routed"
	}
	f.metrics.recordEvent(status, len(result.OrgIDs), snap.Len(), time.Since(start))
	f.logger.Debug("Event routed",
		"source", ev.Source,
		"category", string(ev.Category),
		"clients", len(result.OrgIDs))
	return nil
}
