package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Monitor tracks the health of the process components. All methods are
// safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	process  string
	statuses map[string]Status
}

// NewMonitor creates a monitor for the named process.
func NewMonitor(process string) *Monitor {
	return &Monitor{
		process:  process,
		statuses: make(map[string]Status),
	}
}

// Update records the current status of a component.
func (m *Monitor) Update(name string, level Level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = NewStatus(name, level, message)
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Get returns the last recorded status of a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Overall aggregates all component statuses into one process status,
// with sub-statuses ordered by component name.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Component < subs[j].Component
	})
	return Aggregate(m.process, subs)
}

// ServeHTTP serves the aggregated status as JSON. Healthy and degraded
// answer 200 so that orchestrators do not restart a process that is
// still making progress; unhealthy answers 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall := m.Overall()

	code := http.StatusOK
	if overall.Level == Unhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(overall)
}
