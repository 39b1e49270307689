package component

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// managed tracks one component with its lifecycle state and the named
// child context the manager cancels on shutdown. The component never
// stores the context itself; it receives it through Start.
type managed struct {
	component Lifecycle
	state     State
	cancel    context.CancelFunc
	lastErr   error
}

// Manager initializes, starts, and stops a fixed set of components.
// Start order is registration order; stop order is the reverse.
type Manager struct {
	logger     *slog.Logger
	components []*managed
	wg         sync.WaitGroup
	mu         sync.Mutex

	// fatal receives the first failure of a running component so the
	// process can exit instead of limping along half-started.
	fatal chan error
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		fatal:  make(chan error, 1),
	}
}

// Add registers a component. Must be called before Start.
func (m *Manager) Add(c Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, &managed{component: c, state: StateCreated})
}

// Initialize initializes all components in registration order, stopping at
// the first failure.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.components {
		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastErr = err
			return errors.Wrap(err, "Manager", "Initialize",
				"initialize component "+mc.component.Name())
		}
		mc.state = StateInitialized
		m.logger.Debug("Component initialized", "component", mc.component.Name())
	}
	return nil
}

// Start launches every component in its own goroutine, each with a child
// context of ctx. It returns once all components are launched; component
// failures are delivered through Failures.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.components {
		if mc.state != StateInitialized {
			return errors.WrapInvalid(
				errors.ErrInvalidData, "Manager", "Start",
				"component "+mc.component.Name()+" is "+mc.state.String()+", not initialized")
		}

		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel
		mc.state = StateStarted

		m.wg.Add(1)
		go func(mc *managed, ctx context.Context) {
			defer m.wg.Done()
			name := mc.component.Name()
			m.logger.Info("Component starting", "component", name)
			if err := mc.component.Start(ctx); err != nil && ctx.Err() == nil {
				m.mu.Lock()
				mc.state = StateFailed
				mc.lastErr = err
				m.mu.Unlock()
				m.logger.Error("Component failed", "component", name, "error", err)
				select {
				case m.fatal <- err:
				default:
				}
				return
			}
			m.logger.Info("Component finished", "component", name)
		}(mc, childCtx)
	}
	return nil
}

// Failures returns the channel carrying the first fatal component error.
func (m *Manager) Failures() <-chan error {
	return m.fatal
}

// Stop stops all components in reverse start order, then waits (bounded by
// timeout) for their goroutines to return. The first stop error is
// reported; later components are still stopped.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	var firstErr error
	for i := len(m.components) - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.state != StateStarted {
			continue
		}
		if mc.cancel != nil {
			mc.cancel()
		}
		if err := mc.component.Stop(timeout); err != nil {
			m.logger.Error("Component stop failed",
				"component", mc.component.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			mc.state = StateFailed
			mc.lastErr = err
			continue
		}
		mc.state = StateStopped
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Shutdown timeout expired with components still running")
	}

	if firstErr != nil {
		return errors.Wrap(firstErr, "Manager", "Stop", "stop components")
	}
	return nil
}
