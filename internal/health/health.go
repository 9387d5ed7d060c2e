// Package health aggregates liveness checks for the service's subsystems.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is the outcome of probing one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem. It must respect ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and probes them on demand.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a checker under name, replacing any previous one.
func (r *Registry) Register(name string, check Checker) {
	if check == nil {
		return
	}
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

// CheckAll probes every registered subsystem in name order and reports
// whether all of them are healthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	sort.Strings(names)

	healthy = true
	statuses = make([]Status, 0, len(names))
	for _, name := range names {
		st := checks[name](ctx)
		st.Name = name
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
