package datasource

import (
	"context"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
)

// StaticFact is a fact declared in configuration.
type StaticFact struct {
	Scope      string         `yaml:"scope" json:"scope"`
	Summary    string         `yaml:"summary" json:"summary"`
	Keywords   []string       `yaml:"keywords" json:"keywords,omitempty"`
	Attributes map[string]any `yaml:"attributes" json:"attributes,omitempty"`
}

// StaticSource serves a fixed set of facts. A fact matches a request when
// its scope is empty or equal to the request scope, and when it has no
// keywords or one of them appears in the query.
type StaticSource struct {
	name  string
	kind  contracts.DataSourceKind
	facts []StaticFact
}

// NewStaticSource creates a static data source.
func NewStaticSource(name string, kind contracts.DataSourceKind, facts []StaticFact) *StaticSource {
	return &StaticSource{name: name, kind: kind, facts: facts}
}

func (s *StaticSource) Name() string                   { return s.name }
func (s *StaticSource) Kind() contracts.DataSourceKind { return s.kind }

func (s *StaticSource) Fetch(ctx context.Context, req contracts.DataRequest) ([]contracts.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := strings.ToLower(req.Query)
	now := time.Now().UTC()

	var out []contracts.Fact
	for _, f := range s.facts {
		if f.Scope != "" && f.Scope != req.Scope {
			continue
		}
		if !matchesKeywords(query, f.Keywords) {
			continue
		}
		out = append(out, contracts.Fact{
			Source:     s.name,
			Kind:       s.kind,
			Summary:    f.Summary,
			Attributes: f.Attributes,
			ObservedAt: now,
		})
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func matchesKeywords(query string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(query, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
