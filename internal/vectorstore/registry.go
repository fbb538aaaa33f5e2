// Package vectorstore provides the vector store driver registry and the
// drivers DevopsMate ships: embedded (in-memory brute force) and pgvector.
// Each knowledge base is its own partition inside a driver.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Registry holds the configured vector store drivers and the one the
// Retrieval Engine indexes into.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.VectorStoreDriver
	active  string
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]contracts.VectorStoreDriver)}
}

// Register adds driver under name, replacing a previous one.
func (r *Registry) Register(name string, driver contracts.VectorStoreDriver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Debug().Str("name", name).Str("kind", driver.Kind()).Msg("Vector store driver registered")
}

// Select makes name the active driver and returns it.
func (r *Registry) Select(name string) (contracts.VectorStoreDriver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("vector store %q not registered (have %s)", name, strings.Join(slices.Sorted(maps.Keys(r.drivers)), ", "))
	}
	r.active = name
	return d, nil
}

// Active returns the selected driver, or nil before Select.
func (r *Registry) Active() contracts.VectorStoreDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drivers[r.active]
}

// Names returns the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.drivers))
}

// HealthCheck checks the active driver.
func (r *Registry) HealthCheck(ctx context.Context) error {
	d := r.Active()
	if d == nil {
		return errors.New("no vector store selected")
	}
	if err := d.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s: %w", d.Kind(), err)
	}
	return nil
}
