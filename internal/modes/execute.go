package modes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Execute proposes mutating actions and, once approved, runs them. It never
// runs an action in the same request that proposed it.
type Execute struct {
	deps Deps
}

// NewExecute creates the Execute handler.
func NewExecute(d Deps) *Execute { return &Execute{deps: d} }

func (h *Execute) Mode() models.Mode { return models.ModeExecute }

// RequiredCapability follows the leading verb: deploy, scale and rollback
// need their own capability, everything else needs configure.
func (h *Execute) RequiredCapability(q *models.Query) models.Capability {
	if t, ok := VerbAction(q.Text); ok {
		return t.Capability()
	}
	return models.CapConfigure
}

func (h *Execute) Handle(ctx context.Context, req *Request) *models.Result {
	start := time.Now()
	q := req.Query
	res := models.NewResult(q.ID, models.ModeExecute)
	if h.deps.Approvals == nil {
		return finish(fail(res, apperr.Unavailable("modes.Execute", fmt.Errorf("approval workflow not configured"))), start)
	}

	if token := q.Meta(models.MetaApprovalToken); token != "" {
		return finish(h.run(ctx, req, token, res), start)
	}
	return finish(h.propose(ctx, req, res), start)
}

// propose parses the actions and files one approval per action.
func (h *Execute) propose(ctx context.Context, req *Request, res *models.Result) *models.Result {
	q := req.Query

	actions, ok := ParseActions(q.Text, q.Scope)
	parsedBy := "rules"
	if !ok {
		actions, ok = h.parseWithModel(ctx, q, res)
		parsedBy = "model"
	}
	if !ok {
		return fail(res, apperr.Validation("modes.Execute", "could not parse an action from %q", q.Text))
	}

	for _, a := range actions {
		if a.Target.Scope != q.Scope {
			return fail(res, apperr.Validation("modes.Execute", "action on %s targets scope %q outside the query scope %q", a.Target.Name, a.Target.Scope, q.Scope))
		}
		if !req.Principal.Can(models.ModeExecute, a.Type.Capability()) {
			return fail(res, apperr.PermissionDenied("modes.Execute", "%s lacks execute:%s for %s", req.Principal.ID, a.Type.Capability(), a.Target.Name))
		}
	}

	proposed := make([]map[string]any, 0, len(actions))
	var sb strings.Builder
	sb.WriteString("Approval required before executing:\n")
	for i, a := range actions {
		a.QueryID = q.ID
		a.SessionID = q.SessionID
		approval, err := h.deps.Approvals.Propose(ctx, a, req.Principal.ID)
		if err != nil {
			return fail(res, err)
		}
		if i == 0 {
			res.Data["approval_id"] = approval.ID
			res.Data["action_id"] = a.ID
		}
		proposed = append(proposed, map[string]any{
			"action_id":   a.ID,
			"approval_id": approval.ID,
			"type":        string(a.Type),
			"target":      a.Target,
			"parameters":  a.Parameters,
			"rollback":    a.Rollback != nil,
			"expires_at":  approval.ExpiresAt,
		})
		fmt.Fprintf(&sb, "- %s %s %s in %s (action %s, approval %s)\n", a.Type, a.Target.Kind, a.Target.Name, a.Target.Scope, a.ID, approval.ID)
	}

	res.Success = false
	res.Data["approval_required"] = true
	res.Data["actions"] = proposed
	res.Data["parsed_by"] = parsedBy
	res.Response = sb.String()
	res.Confidence = 80
	if parsedBy == "model" {
		res.Confidence = 60
	}
	return res
}

func (h *Execute) parseWithModel(ctx context.Context, q *models.Query, res *models.Result) ([]*models.Action, bool) {
	types := make([]string, 0, len(verbs))
	for _, t := range []models.ActionType{models.ActionDeploy, models.ActionScale, models.ActionRestart, models.ActionRollback, models.ActionUpdate, models.ActionConfigure} {
		types = append(types, string(t))
	}
	prompt, err := render(actionPrompt, promptData{Query: q.Text, Scope: q.Scope, ActionTypes: types})
	if err != nil {
		return nil, false
	}
	text, err := complete(ctx, h.deps, prompt, models.ModelCodeInfra, 0.1)
	if err != nil {
		res.Warn("action parser model unavailable: " + err.Error())
		return nil, false
	}
	return ParseModelActions(text, q.Scope)
}

// run executes the action an approval token gates.
func (h *Execute) run(ctx context.Context, req *Request, token string, res *models.Result) *models.Result {
	res.Data["approval_id"] = token

	action, err := h.deps.Approvals.Execute(ctx, token, req.Principal)
	if action != nil {
		res.Data["action_id"] = action.ID
		res.Data["status"] = string(action.Status)
		res.Data["output"] = action.Output
		if action.Error != "" {
			res.Data["error"] = action.Error
		}
		if action.RollbackError != "" {
			res.Data["rollback_error"] = action.RollbackError
		}
	}
	if err != nil {
		return fail(res, err)
	}
	if action.Status != models.ActionSucceeded {
		return fail(res, apperr.New(apperr.KindExecutionFailure, "modes.Execute", "action %s ended %s", action.ID, action.Status))
	}

	log.Info().Str("action", action.ID).Str("principal", req.Principal.ID).Msg("Action executed")
	res.Success = true
	res.Response = fmt.Sprintf("%s %s %s in %s succeeded.", action.Type, action.Target.Kind, action.Target.Name, action.Target.Scope)
	if action.Output != "" {
		res.Response += "\n\n" + action.Output
	}
	res.Confidence = 100
	return res
}
