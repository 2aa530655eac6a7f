// Package health aggregates liveness of the scanner's external
// dependencies (chain RPC, report database) for the /health endpoint.
package health

import (
	"context"
	"sync"
)

// Status is one dependency's health probe result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single dependency. Checkers should bound their own
// work with the given context; a hung RPC must not hang /health.
type Checker func(ctx context.Context) Status

// Registry holds named dependency checkers and runs them on demand.
// Only dependencies that are actually configured get registered: a
// memory-store deployment has no database checker.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty checker registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named dependency checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker in registration order and
// returns the aggregate (false if any dependency is down) plus the
// per-dependency results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
