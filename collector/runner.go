package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/errors"
)

// Publisher is the bus surface the runner needs. Satisfied by
// *bus.Publisher; fakes implement it in tests.
type Publisher interface {
	Publish(ctx context.Context, env *bus.Envelope) error
}

// States is the state-store surface the runner needs. Satisfied by
// *statestore.Store.
type States interface {
	Load(ctx context.Context, collectorID string) (json.RawMessage, uint64, error)
	Commit(ctx context.Context, collectorID string, state any, revision uint64) error
}

// Runner drives one feed through its full collection cycle: load state,
// obtain the delta, publish it, commit the new state. The commit happens
// strictly after the broker acknowledges the publish; a crash in between
// re-delivers the delta on the next run rather than losing it.
type Runner struct {
	desc     *Descriptor
	strategy Strategy
	pub      Publisher
	states   States
	logger   *slog.Logger
	metrics  *collectorMetrics

	runMu sync.Mutex // one collection cycle at a time
}

// NewRunner wires a feed descriptor to the bus and the state store.
func NewRunner(
	desc *Descriptor, deps component.Dependencies, pub Publisher, states States) (*Runner, error) {
	strategy, err := desc.BuildStrategy()
	if err != nil {
		return nil, err
	}

	metrics, err := newCollectorMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Runner", "NewRunner", "register metrics")
	}

	return &Runner{
		desc:     desc,
		strategy: strategy,
		pub:      pub,
		states:   states,
		logger:   deps.GetLoggerWithComponent("collector." + desc.Source),
		metrics:  metrics,
	}, nil
}

// Name returns the component name.
func (r *Runner) Name() string {
	return "collector." + r.desc.Source
}

// Initialize validates the wiring.
func (r *Runner) Initialize() error {
	if r.pub == nil || r.states == nil {
		return errors.WrapFatal(errors.ErrInvalidData, "Runner", "Initialize",
			"publisher and state store are required")
	}
	return r.desc.Validate()
}

// Start runs collection cycles until ctx is cancelled. With no interval
// configured it runs a single cycle and returns.
func (r *Runner) Start(ctx context.Context) error {
	if r.desc.Interval <= 0 {
		return r.RunOnce(ctx)
	}

	// First cycle immediately, then on the interval.
	if err := r.cycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.desc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// cycle runs one collection cycle in interval mode. Fatal errors and
// source anomalies terminate the run: an anomaly that escapes the
// strategy means the source's policy flag did not permit it. Transient
// failures leave state untouched and are retried on the next tick.
func (r *Runner) cycle(ctx context.Context) error {
	err := r.RunOnce(ctx)
	switch {
	case err == nil:
		return nil
	case errors.IsFatal(err) || errors.IsAnomaly(err):
		return err
	default:
		r.logger.Warn("Collection cycle failed, will retry", "error", err)
		return nil
	}
}

// Stop waits for an in-flight cycle to finish, bounded by timeout.
func (r *Runner) Stop(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.runMu.Lock()
		defer r.runMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Runner", "Stop",
			"cycle still running after "+timeout.String())
	}
}

// RunOnce executes one full collection cycle. Each cycle gets a fresh
// run id carried in logs and on published envelopes, correlating a raw
// unit with the cycle that produced it. The message id stays the content
// hash: run ids identify attempts, not payloads.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	id := r.desc.ID()
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	prev, revision, err := r.states.Load(ctx, id)
	if err != nil {
		r.metrics.recordRun(id, "error", 0, time.Since(start))
		return err
	}

	delta, next, err := r.strategy.ObtainDelta(ctx, prev)
	if err != nil {
		if errors.IsAnomaly(err) {
			r.metrics.recordAnomaly(id, "source")
			logger.Error("Source anomaly detected, state untouched", "error", err)
		}
		r.metrics.recordRun(id, "error", 0, time.Since(start))
		return err
	}

	if len(delta) > 0 {
		sep := r.desc.RowSep
		if sep == "" {
			sep = "\n"
		}
		payload := strings.Join(delta, sep)

		env := bus.NewEnvelope(
			r.desc.RoutingKey(), []byte(payload), r.desc.ContentType, r.desc.FormatVersion)
		env.Headers = map[string]string{bus.HeaderRunID: runID}
		if err := r.pub.Publish(ctx, env); err != nil {
			// Publish not acknowledged: abort without committing, so the
			// delta is re-obtained and re-published next cycle.
			r.metrics.recordRun(id, "error", 0, time.Since(start))
			return err
		}
	}

	// State commit strictly after the publish acknowledgment.
	if next != nil {
		if err := r.states.Commit(ctx, id, next, revision); err != nil {
			r.metrics.recordRun(id, "error", 0, time.Since(start))
			return err
		}
	}

	status := "empty"
	if len(delta) > 0 {
		status = "published"
	}
	r.metrics.recordRun(id, status, len(delta), time.Since(start))
	logger.Info("Collection cycle complete",
		"fresh_rows", len(delta),
		"state_committed", next != nil,
		"duration", time.Since(start))
	return nil
}
