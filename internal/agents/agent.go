// Package agents implements the specialist agents. Each agent is a
// Specialization (domain, preferred model class, prompt template, allowed
// data sources) driven by the same template-rendering DomainAgent.
package agents

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultConfidence applies when the model does not state one.
	DefaultConfidence = 60.0

	// sourcePenalty is subtracted per data source that failed to answer.
	sourcePenalty = 10.0

	specialistTemperature = 0.3
)

// Input is what a specialist works from besides the query itself.
type Input struct {
	Scope     string
	Knowledge []models.RetrievedChunk
	Prior     []models.PartialResult
}

// Clone returns a copy that shares no slices with in.
func (in Input) Clone() Input {
	return Input{
		Scope:     in.Scope,
		Knowledge: slices.Clone(in.Knowledge),
		Prior:     slices.Clone(in.Prior),
	}
}

// Agent is a specialist.
type Agent interface {
	Specialization() models.Specialization
	Handle(ctx context.Context, q *models.Query, in Input) (models.PartialResult, error)
}

// DomainAgent answers from its data sources, the retrieved knowledge and
// any prior findings, through one LLM call.
type DomainAgent struct {
	spec    models.Specialization
	llm     contracts.LLMBackend
	sources *datasource.Registry
	tmpl    *template.Template
}

// NewDomainAgent parses the specialization's prompt template. An empty
// template uses the default one.
func NewDomainAgent(spec models.Specialization, llm contracts.LLMBackend, sources *datasource.Registry) (*DomainAgent, error) {
	text := spec.PromptTemplate
	if text == "" {
		text = defaultPrompt
	}
	tmpl, err := template.New(spec.ID).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("specialization %s: parse prompt template: %w", spec.ID, err)
	}
	if spec.ModelClass == "" {
		spec.ModelClass = models.ModelAnalytics
	}
	return &DomainAgent{spec: spec, llm: llm, sources: sources, tmpl: tmpl}, nil
}

func (a *DomainAgent) Specialization() models.Specialization { return a.spec }

// promptData is what prompt templates see.
type promptData struct {
	Query       string
	Scope       string
	Domain      string
	Description string
	Facts       []string
	Knowledge   []string
	Prior       []string
	Context     []string
}

// Handle runs the specialist. Data source failures degrade the result; an
// LLM failure is returned as the error.
func (a *DomainAgent) Handle(ctx context.Context, q *models.Query, in Input) (models.PartialResult, error) {
	start := time.Now()
	pr := models.PartialResult{
		SpecializationID: a.spec.ID,
		Domain:           a.spec.Domain,
		ContextUsed:      []string{},
		Data:             map[string]any{},
	}

	data := promptData{
		Query:       q.Text,
		Scope:       in.Scope,
		Domain:      string(a.spec.Domain),
		Description: a.spec.Description,
	}

	failedSources := 0
	if a.sources != nil && len(a.spec.DataSources) > 0 {
		kinds := make([]contracts.DataSourceKind, len(a.spec.DataSources))
		for i, ds := range a.spec.DataSources {
			kinds[i] = contracts.DataSourceKind(ds)
		}
		for _, src := range a.sources.Select(a.spec.DataSources, kinds) {
			facts, err := src.Fetch(ctx, contracts.DataRequest{Query: q.Text, Scope: in.Scope, Limit: 20})
			if err != nil {
				if ctx.Err() != nil {
					return pr, ctx.Err()
				}
				failedSources++
				pr.Warnings = append(pr.Warnings, fmt.Sprintf("data source %s unavailable: %v", src.Name(), err))
				continue
			}
			for _, f := range facts {
				data.Facts = append(data.Facts, fmt.Sprintf("[%s] %s", f.Source, f.Summary))
			}
		}
		pr.Data["facts"] = len(data.Facts)
	}
	for _, k := range in.Knowledge {
		data.Knowledge = append(data.Knowledge, fmt.Sprintf("[kb:%s#%d] %s", k.DocumentTitle, k.Position, k.Text))
	}
	for _, p := range in.Prior {
		if p.Status == models.PartialCompleted {
			data.Prior = append(data.Prior, fmt.Sprintf("[%s] %s", p.SpecializationID, p.Finding))
		}
	}
	data.Context = slices.Concat(data.Facts, data.Knowledge, data.Prior)

	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, data); err != nil {
		return pr, fmt.Errorf("render prompt: %w", err)
	}

	out, err := a.llm.Complete(ctx, buf.String(), a.spec.ModelClass, specialistTemperature)
	if err != nil {
		return pr, err
	}

	finding, conf := ParseConfidence(out)
	conf -= float64(failedSources) * sourcePenalty

	pr.Status = models.PartialCompleted
	pr.Finding = finding
	pr.Confidence = models.ClampConfidence(conf)
	pr.ContextUsed = append(pr.ContextUsed, data.Context...)
	pr.DurationMs = time.Since(start).Milliseconds()

	log.Debug().
		Str("specialist", a.spec.ID).
		Float64("confidence", pr.Confidence).
		Int("context", len(pr.ContextUsed)).
		Int64("duration_ms", pr.DurationMs).
		Msg("Specialist finished")
	return pr, nil
}

var confidenceLine = regexp.MustCompile(`(?im)^\s*confidence\s*[:=]\s*(\d{1,3})(?:\s*%|\s*/\s*100)?\s*$`)

// ParseConfidence strips the last "Confidence: NN" line from text and
// returns it. Text without one gets DefaultConfidence.
func ParseConfidence(text string) (string, float64) {
	locs := confidenceLine.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(text), DefaultConfidence
	}
	last := locs[len(locs)-1]
	n, err := strconv.Atoi(text[last[2]:last[3]])
	if err != nil {
		return strings.TrimSpace(text), DefaultConfidence
	}
	finding := strings.TrimSpace(text[:last[0]] + text[last[1]:])
	return finding, models.ClampConfidence(float64(n))
}
