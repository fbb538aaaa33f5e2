// Package embeddings provides the embedding driver registry and the drivers
// DevopsMate ships: Ollama for real deployments and a deterministic hashing
// driver for offline use and tests.
package embeddings

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

// Registry holds the configured embedding drivers and the one selected for
// ingestion and retrieval. Both paths must embed with the same driver.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.EmbeddingDriver
	active  string
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]contracts.EmbeddingDriver)}
}

// Register adds driver under name, replacing a previous one.
func (r *Registry) Register(name string, driver contracts.EmbeddingDriver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Debug().Str("name", name).Str("kind", driver.Kind()).Int("dims", driver.Dimensions()).Msg("Embedding driver registered")
}

// Select makes name the active driver and returns it.
func (r *Registry) Select(name string) (contracts.EmbeddingDriver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("embedding driver %q not registered (have %s)", name, strings.Join(slices.Sorted(maps.Keys(r.drivers)), ", "))
	}
	r.active = name
	return d, nil
}

// Active returns the selected driver, or nil before Select.
func (r *Registry) Active() contracts.EmbeddingDriver {
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

// HealthCheck checks the active driver. Unused registered drivers are not
// contacted.
func (r *Registry) HealthCheck(ctx context.Context) error {
	d := r.Active()
	if d == nil {
		return errors.New("no embedding driver selected")
	}
	if err := d.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s: %w", d.Kind(), err)
	}
	return nil
}
