package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/errors"
)

// Publisher is the bus surface the parser needs. Satisfied by
// *bus.Publisher.
type Publisher interface {
	Publish(ctx context.Context, env *bus.Envelope) error
}

// Source consumes one pipeline stage. Satisfied by *bus.Consumer.
type Source interface {
	Consume(ctx context.Context, stage bus.Stage, durable string, handler bus.Handler) error
}

const parserDurable = "n6-parser"

// Parser is the normalization component: it consumes raw units, applies
// the schema bound to each unit's source and format version, and
// republishes the resulting canonical events at the parsed stage.
type Parser struct {
	registry *Registry
	source   Source
	pub      Publisher
	logger   *slog.Logger
	metrics  *parserMetrics
}

// NewParser wires a schema registry to the bus.
func NewParser(
	registry *Registry, deps component.Dependencies, source Source, pub Publisher) (*Parser, error) {
	metrics, err := newParserMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Parser", "NewParser", "register metrics")
	}

	return &Parser{
		registry: registry,
		source:   source,
		pub:      pub,
		logger:   deps.GetLoggerWithComponent("parser"),
		metrics:  metrics,
	}, nil
}

// Name returns the component name.
func (p *Parser) Name() string {
	return "parser"
}

// Initialize validates the wiring.
func (p *Parser) Initialize() error {
	if p.registry == nil || p.source == nil || p.pub == nil {
		return errors.WrapFatal(errors.ErrInvalidData, "Parser", "Initialize",
			"registry, source and publisher are required")
	}
	if len(p.registry.Sources()) == 0 {
		return errors.WrapFatal(errors.ErrNoSchema, "Parser", "Initialize",
			"schema registry is empty")
	}
	return nil
}

// Start consumes the raw stage until ctx is cancelled or a unit fails
// terminally. Raw units without a schema binding keep redelivering, so
// they get parsed once the missing schema is deployed instead of being
// lost; units a deployed schema rejects end the run with the error.
func (p *Parser) Start(ctx context.Context) error {
	return p.source.Consume(ctx, bus.StageRaw, parserDurable, p.Handle)
}

// Stop is immediate; in-flight units finish through consumer draining.
func (p *Parser) Stop(_ time.Duration) error {
	return nil
}

// Handle normalizes one raw unit and publishes its canonical events.
func (p *Parser) Handle(ctx context.Context, env *bus.Envelope) error {
	start := time.Now()
	source := env.Key.Source

	schema, err := p.registry.Lookup(source, env.FormatVersion)
	if err != nil {
		p.metrics.recordUnit(source, "error", 0, 0, time.Since(start))
		p.logger.Error("No schema for raw unit",
			"source", source,
			"format_version", env.FormatVersion,
			"message_id", env.MessageID,
			"error", err)
		// The schema may simply not be deployed yet. Downgrade to
		// transient so the unit keeps redelivering instead of ending
		// the run.
		return errors.WrapTransient(err, "Parser", "Handle", "schema lookup for "+source)
	}

	res, err := schema.Apply(env.Payload)
	if err != nil {
		p.metrics.recordUnit(source, "error", len(res.Events), res.RowsSkipped, time.Since(start))
		p.logger.Error("Raw unit rejected",
			"source", source,
			"stage", "parse",
			"message_id", env.MessageID,
			"error", err)
		return err
	}

	eventKey := env.Key.WithStage(bus.StageParsed)
	for _, ev := range res.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.metrics.recordUnit(source, "error", 0, res.RowsSkipped, time.Since(start))
			return errors.WrapFatal(err, "Parser", "Handle", "marshal event")
		}
		out := bus.NewEnvelope(eventKey, payload, "application/json", env.FormatVersion)
		if err := p.pub.Publish(ctx, out); err != nil {
			// Unacked publish: leave the unit unacknowledged so the whole
			// batch replays; downstream dedups by message id.
			p.metrics.recordUnit(source, "error", 0, res.RowsSkipped, time.Since(start))
			return err
		}
	}

	if res.RowsSkipped > 0 {
		p.logger.Warn("Skipped malformed rows",
			"source", source,
			"skipped", res.RowsSkipped,
			"total", res.RowsTotal)
	}

	p.metrics.recordUnit(source, "parsed", len(res.Events), res.RowsSkipped, time.Since(start))
	p.logger.Info("Raw unit normalized",
		"source", source,
		"events", len(res.Events),
		"rows", res.RowsTotal,
		"duration", time.Since(start))
	return nil
}
