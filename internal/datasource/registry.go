// Package datasource holds the fact providers specialists consult: metrics,
// logs, topology, repositories, cost and security feeds.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Registry holds named data sources. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]contracts.DataSource
}

// NewRegistry creates an empty data source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]contracts.DataSource)}
}

// Register adds a source under its name. Overwrites if exists.
func (r *Registry) Register(src contracts.DataSource) {
	r.mu.Lock()
	r.sources[src.Name()] = src
	r.mu.Unlock()
	log.Info().Str("name", src.Name()).Str("kind", string(src.Kind())).Msg("Data source registered")
}

// Get returns the source by name.
func (r *Registry) Get(name string) (contracts.DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("data source not found: %s", name)
	}
	return s, nil
}

// List returns all registered source names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the sources matching any of the given names or kinds,
// ordered by name. Empty filters select nothing.
func (r *Registry) Select(names []string, kinds []contracts.DataSourceKind) []contracts.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []contracts.DataSource
	for _, n := range names {
		if s, ok := r.sources[n]; ok && !seen[n] {
			seen[n] = true
			out = append(out, s)
		}
	}
	for name, s := range r.sources {
		if seen[name] {
			continue
		}
		for _, k := range kinds {
			if s.Kind() == k {
				seen[name] = true
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Gather fetches from every source sequentially. Sources that fail are
// skipped; their errors are joined into the returned error alongside
// whatever facts the others produced.
func Gather(ctx context.Context, sources []contracts.DataSource, req contracts.DataRequest) ([]contracts.Fact, error) {
	var (
		facts []contracts.Fact
		errs  []error
	)
	for _, s := range sources {
		f, err := s.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return facts, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		facts = append(facts, f...)
	}
	return facts, errors.Join(errs...)
}
