package modes

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// promptData is what every mode prompt can reference.
type promptData struct {
	Query       string
	Scope       string
	Intent      string
	Capability  string
	History     []models.Turn
	Knowledge   []models.RetrievedChunk
	Facts       []contracts.Fact
	Findings    []models.PartialResult
	Synthesis   string
	ActionTypes []string
}

var funcs = template.FuncMap{
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return string(r[:n]) + "..."
	},
	"join": strings.Join,
}

const contextBlock = `{{define "context"}}
{{- if .History}}Previous conversation:
{{range .History}}- Q: {{truncate 200 .Query.Text}}
{{if .Result}}  A: {{truncate 300 .Result.Response}}
{{end}}{{end}}
{{end -}}
{{- if .Knowledge}}Relevant knowledge:
{{range .Knowledge}}[kb:{{.DocumentTitle}}#{{.Position}}] {{.Text}}
{{end}}
{{end -}}
{{- if .Facts}}Observed facts:
{{range .Facts}}[{{.Source}}] {{.Summary}}
{{end}}
{{end -}}
{{end}}`

var askPrompt = mustPrompt("ask", contextBlock+`You are a DevOps assistant answering a read-only question about the {{.Scope}} environment.
Question intent: {{.Intent}}

{{template "context" .}}
{{- if .Findings}}Specialist findings:
{{.Synthesis}}

{{end -}}
Question: {{.Query}}

Answer concisely and only from the context above. Say so when the context is insufficient.
End with a line "Confidence: NN" (0-100).`)

var planPrompt = mustPrompt("plan", contextBlock+`You are a senior platform engineer planning a change in the {{.Scope}} environment.
Nothing will be applied; this is a simulation ({{.Capability}}).

{{template "context" .}}
Goal: {{.Query}}

Create a detailed plan with:
1. Clear steps in logical order
2. Risk and impact for each step
3. Estimated cost or effort where relevant
4. Validation and rollback checkpoints

Number each step ("1.", "2.", ...) and put details on the lines below it.`)

var debugPrompt = mustPrompt("debug", contextBlock+`You are a senior SRE analyzing an issue in the {{.Scope}} environment ({{.Capability}}).

{{template "context" .}}
{{- if .Findings}}Specialist findings:
{{.Synthesis}}

{{end -}}
Issue: {{.Query}}

Analyze this issue and reply with these sections:
Root Cause: <one sentence>
Evidence:
- <observation>
Recommendations:
- <fix>
End with a line "Confidence: NN" (0-100).`)

var actionPrompt = mustPrompt("execute", `You are a DevOps execution engine. Parse the command into structured actions.

Allowed action types: {{join .ActionTypes ", "}}
Default scope: {{.Scope}}

Command: {{.Query}}

Return only JSON of the form:
{"actions":[{"type":"deploy","target":"checkout","target_kind":"service","scope":"{{.Scope}}","parameters":{"version":"1.4.2"}}]}`)

func mustPrompt(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text))
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
