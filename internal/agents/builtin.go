package agents

import "github.com/kloudping-venkat/DevopsMate/pkg/models"

const defaultPrompt = `You are the {{.Domain}} specialist of an operations assistant. {{.Description}}

Question (scope {{if .Scope}}{{.Scope}}{{else}}unscoped{{end}}): {{.Query}}
{{if .Context}}
Context:
{{range .Context}}- {{.}}
{{end}}{{end}}
Answer with the findings relevant to your domain, citing the context you used.
End with a line "Confidence: NN" where NN is 0-100.`

const codePrompt = `You are the code and infrastructure specialist of an operations assistant. {{.Description}}

Request (scope {{if .Scope}}{{.Scope}}{{else}}unscoped{{end}}): {{.Query}}
{{if .Knowledge}}
Documentation:
{{range .Knowledge}}- {{.}}
{{end}}{{end}}{{if .Facts}}
Repository and infrastructure facts:
{{range .Facts}}- {{.}}
{{end}}{{end}}{{if .Prior}}
Other specialists found:
{{range .Prior}}- {{.}}
{{end}}{{end}}
Reason about configuration, manifests and code paths. Be specific.
End with a line "Confidence: NN" where NN is 0-100.`

// Builtin returns the specializations available without configuration.
func Builtin() []models.Specialization {
	return []models.Specialization{
		{
			ID:           "metrics",
			Domain:       models.DomainMetrics,
			Description:  "You read time series: latency, error rates, saturation and traffic.",
			Capabilities: []string{"read_metrics", "analyze_failure"},
			ModelClass:   models.ModelAnalytics,
			DataSources:  []string{"metrics"},
		},
		{
			ID:           "logs",
			Domain:       models.DomainLogs,
			Description:  "You read application and platform logs and spot error patterns.",
			Capabilities: []string{"read_logs", "trace_execution"},
			ModelClass:   models.ModelAnalytics,
			DataSources:  []string{"logs"},
		},
		{
			ID:           "security",
			Domain:       models.DomainSecurity,
			Description:  "You assess access policies, exposed endpoints and vulnerability reports.",
			Capabilities: []string{"read_security"},
			ModelClass:   models.ModelAnalytics,
			DataSources:  []string{"security"},
		},
		{
			ID:           "cost",
			Domain:       models.DomainCost,
			Description:  "You analyse cloud spend and estimate the cost of changes.",
			Capabilities: []string{"read_cost", "estimate_cost"},
			ModelClass:   models.ModelAnalytics,
			DataSources:  []string{"cost"},
		},
		{
			ID:           "topology",
			Domain:       models.DomainTopology,
			Description:  "You know how services depend on each other and where traffic flows.",
			Capabilities: []string{"read_topology", "estimate_impact"},
			ModelClass:   models.ModelAnalytics,
			DataSources:  []string{"topology"},
		},
		{
			ID:             "code",
			Domain:         models.DomainCode,
			Description:    "You read repositories, manifests and pipeline definitions.",
			Capabilities:   []string{"read_config", "read_cicd", "validate_change"},
			ModelClass:     models.ModelCodeInfra,
			PromptTemplate: codePrompt,
			DataSources:    []string{"repository"},
		},
	}
}
