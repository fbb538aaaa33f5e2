package agents

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Registry holds specialists by specialization id. Thread-safe.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty specialist registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// NewDefaultRegistry registers the built-in specializations followed by
// extra ones. An extra specialization with a built-in id replaces it.
func NewDefaultRegistry(llm contracts.LLMBackend, sources *datasource.Registry, extra ...models.Specialization) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range append(Builtin(), extra...) {
		a, err := NewDomainAgent(spec, llm, sources)
		if err != nil {
			return nil, err
		}
		r.Register(a)
	}
	return r, nil
}

// Register adds an agent. Overwrites if exists.
func (r *Registry) Register(a Agent) {
	spec := a.Specialization()
	r.mu.Lock()
	r.agents[spec.ID] = a
	r.mu.Unlock()
	log.Debug().Str("id", spec.ID).Str("domain", string(spec.Domain)).Str("model_class", string(spec.ModelClass)).Msg("Specialist registered")
}

// Get returns the agent for a specialization id.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("specialist not found: %s", id)
	}
	return a, nil
}

// Specializations returns every registered specialization, sorted by id.
func (r *Registry) Specializations() []models.Specialization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Specialization, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Specialization())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForDomains returns the ids of specialists in the given domains, sorted.
func (r *Registry) ForDomains(domains ...models.Domain) []string {
	var ids []string
	for _, s := range r.Specializations() {
		for _, d := range domains {
			if s.Domain == d {
				ids = append(ids, s.ID)
				break
			}
		}
	}
	return ids
}
