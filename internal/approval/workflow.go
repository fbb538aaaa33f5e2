package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTTL is how long an approval stays decidable.
const DefaultTTL = 30 * time.Minute

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve"/"approved" and "reject"/"rejected".
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", apperr.Validation("approval.ParseDecision", "unknown decision %q", s)
}

// Notification event types.
const (
	NotifyApprovalPending = "approval_pending"
	NotifyApprovalDecided = "approval_decided"
	NotifyActionFinished  = "action_finished"
)

// Workflow gates actions behind approvals and runs approved ones.
type Workflow struct {
	store    store.ActionStore
	backend  contracts.ExecutionBackend
	notifier contracts.Notifier
	policies []Policy
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithTTL sets the approval lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(w *Workflow) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// WithPolicies replaces the default policies.
func WithPolicies(p []Policy) Option {
	return func(w *Workflow) { w.policies = p }
}

// WithNotifier sets where lifecycle events go.
func WithNotifier(n contracts.Notifier) Option {
	return func(w *Workflow) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, contracts.NotificationEvent) {}

// NewWorkflow creates a workflow over the action store and execution backend.
func NewWorkflow(s store.ActionStore, backend contracts.ExecutionBackend, opts ...Option) *Workflow {
	defaults, err := CompilePolicies(DefaultPolicyRules)
	if err != nil {
		panic(err)
	}
	w := &Workflow{
		store:    s,
		backend:  backend,
		notifier: noopNotifier{},
		policies: defaults,
		ttl:      DefaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Propose records action as pending approval and issues its approval token.
func (w *Workflow) Propose(ctx context.Context, action *models.Action, requester string) (*models.Approval, error) {
	if action.Type == "" || action.Target.Name == "" {
		return nil, apperr.Validation("approval.Propose", "action needs a type and a target")
	}
	now := w.now()
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.Status = models.ActionPendingApproval
	action.RequestedBy = requester
	action.CreatedAt = now
	action.UpdatedAt = now

	approval := &models.Approval{
		ID:        uuid.NewString(),
		ActionID:  action.ID,
		Status:    models.ApprovalPending,
		Requester: requester,
		ExpiresAt: now.Add(w.ttl),
		CreatedAt: now,
	}
	if err := w.store.CreateAction(ctx, action, approval); err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}

	log.Info().
		Str("action", action.ID).
		Str("type", string(action.Type)).
		Str("target", action.Target.Name).
		Str("scope", action.Target.Scope).
		Time("expires_at", approval.ExpiresAt).
		Msg("🔑 Approval requested")
	w.notify(ctx, NotifyApprovalPending, action, approval)
	return approval, nil
}

// Decide approves or rejects the action's pending approval.
func (w *Workflow) Decide(ctx context.Context, actionID string, decision Decision, principal models.Principal, reason string) (*models.Approval, error) {
	const op = "approval.Decide"

	action, approval, err := w.load(ctx, op, actionID)
	if err != nil {
		return nil, err
	}

	now := w.now()
	lapsed := approval.Expired(now)
	if lapsed {
		if err := w.expire(ctx, action, approval, now); err != nil {
			return nil, err
		}
	}

	// The grant is checked before any status is revealed.
	if !principal.CanApprove(action.Target.Scope, action.Type) {
		return nil, apperr.PermissionDenied(op, "%s may not decide %s actions in %s", principal.ID, action.Type, action.Target.Scope)
	}

	if lapsed {
		return approval, apperr.Expired(op, "approval for action %s expired at %s", actionID, approval.ExpiresAt.Format(time.RFC3339))
	}
	switch approval.Status {
	case models.ApprovalPending:
	case models.ApprovalExpired:
		return approval, apperr.Expired(op, "approval for action %s has expired", actionID)
	default:
		return approval, apperr.Conflict(op, "action %s is already %s", actionID, approval.Status)
	}

	event, approvalStatus := EventReject, models.ApprovalRejected
	if decision == DecisionApprove {
		event, approvalStatus = EventApprove, models.ApprovalApproved
		violated, err := firstViolation(w.policies, policyEnv(action, approval, principal))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if violated != "" {
			return nil, apperr.PermissionDenied(op, "policy %s denies approval by %s", violated, principal.ID)
		}
	} else if decision != DecisionReject {
		return nil, apperr.Validation(op, "unknown decision %q", decision)
	}

	to, err := Transition(action.Status, event, action.Rollback != nil)
	if err != nil {
		return nil, err
	}

	from := action.Status
	action.Status = to
	action.UpdatedAt = now
	approval.Status = approvalStatus
	approval.Approver = principal.ID
	approval.Reason = reason
	approval.DecidedAt = &now

	if err := w.store.SwapAction(ctx, from, action, approval); err != nil {
		return nil, w.swapError(op, actionID, err)
	}

	log.Info().
		Str("action", actionID).
		Str("decision", string(decision)).
		Str("approver", principal.ID).
		Msg("Approval decided")
	w.notify(ctx, NotifyApprovalDecided, action, approval)
	return approval, nil
}

// Execute runs the action an approved token gates. The returned action
// reflects the final state; a backend failure also returns an
// ExecutionFailure error.
func (w *Workflow) Execute(ctx context.Context, token string, principal models.Principal) (*models.Action, error) {
	const op = "approval.Execute"

	approval, err := w.store.GetApproval(ctx, token)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound(op, "approval token %s not found", token)
		}
		return nil, err
	}
	action, err := w.store.GetAction(ctx, approval.ActionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound(op, "action %s not found", approval.ActionID)
		}
		return nil, err
	}

	now := w.now()
	switch approval.Status {
	case models.ApprovalApproved:
	case models.ApprovalPending:
		if approval.Expired(now) {
			if err := w.expire(ctx, action, approval, now); err != nil {
				return nil, err
			}
			return action, apperr.Expired(op, "approval %s expired before a decision", token)
		}
		return action, apperr.Conflict(op, "action %s is still awaiting approval", action.ID)
	case models.ApprovalExpired:
		return action, apperr.Expired(op, "approval %s has expired", token)
	default:
		return action, apperr.Conflict(op, "action %s was %s", action.ID, approval.Status)
	}

	if action.Status != models.ActionApproved {
		return action, apperr.Conflict(op, "approval %s is stale: action %s is %s", token, action.ID, action.Status)
	}
	if !now.Before(approval.ExpiresAt) {
		if err := w.expire(ctx, action, approval, now); err != nil {
			return nil, err
		}
		return action, apperr.Expired(op, "approval %s expired at %s", token, approval.ExpiresAt.Format(time.RFC3339))
	}
	if !principal.Can(models.ModeExecute, action.Type.Capability()) || !principal.InScope(action.Target.Scope) {
		return nil, apperr.PermissionDenied(op, "%s may not execute %s in %s", principal.ID, action.Type, action.Target.Scope)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	to, err := Transition(action.Status, EventStart, action.Rollback != nil)
	if err != nil {
		return nil, err
	}
	action.Status = to
	action.UpdatedAt = now
	if err := w.store.SwapAction(ctx, models.ActionApproved, action, nil); err != nil {
		return nil, w.swapError(op, action.ID, err)
	}

	// Past this point the caller can no longer cancel the mutation.
	bctx := context.WithoutCancel(ctx)
	bctx, span := otel.Tracer("devopsmate").Start(bctx, "approval.execute")
	span.SetAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.type", string(action.Type)),
		attribute.String("action.target", action.Target.Name),
		attribute.String("backend", w.backend.Kind()),
	)
	defer span.End()

	start := time.Now()
	outcome := w.run(bctx, action)
	event := EventSucceed
	if !outcome.Succeeded {
		event = EventFail
	}
	to, _ = Transition(action.Status, event, action.Rollback != nil)
	action.Status = to
	action.Output = outcome.Output
	action.Error = outcome.Error
	action.UpdatedAt = w.now()
	if err := w.store.SwapAction(bctx, models.ActionExecuting, action, nil); err != nil {
		span.RecordError(err)
		return action, fmt.Errorf("%s: record outcome: %w", op, err)
	}

	if outcome.Succeeded {
		log.Info().Str("action", action.ID).Dur("duration", time.Since(start)).Msg("✅ Action succeeded")
		span.SetStatus(codes.Ok, "")
		w.notify(bctx, NotifyActionFinished, action, approval)
		return action, nil
	}

	log.Error().Str("action", action.ID).Str("error", outcome.Error).Dur("duration", time.Since(start)).Msg("❌ Action failed")
	span.SetStatus(codes.Error, outcome.Error)
	if action.Rollback != nil {
		w.rollback(bctx, action)
	}
	w.notify(bctx, NotifyActionFinished, action, approval)
	return action, apperr.New(apperr.KindExecutionFailure, op, "%s %s failed: %s", action.Type, action.Target.Name, outcome.Error)
}

func (w *Workflow) run(ctx context.Context, action *models.Action) contracts.ExecutionOutcome {
	outcome, err := w.backend.Execute(ctx, action)
	if err != nil {
		return contracts.ExecutionOutcome{Succeeded: false, Output: outcome.Output, Error: err.Error()}
	}
	if !outcome.Succeeded && outcome.Error == "" {
		outcome.Error = "backend reported failure"
	}
	return outcome
}

// rollback runs the action's rollback descriptor. Success moves the action
// to rolled_back; failure leaves it failed with RollbackError set.
func (w *Workflow) rollback(ctx context.Context, action *models.Action) {
	undo := &models.Action{
		ID:          action.ID + "-rollback",
		QueryID:     action.QueryID,
		SessionID:   action.SessionID,
		Type:        action.Rollback.Type,
		Target:      action.Target,
		Parameters:  action.Rollback.Parameters,
		Status:      models.ActionExecuting,
		RequestedBy: action.RequestedBy,
		CreatedAt:   w.now(),
	}
	outcome := w.run(ctx, undo)

	if outcome.Succeeded {
		to, err := Transition(action.Status, EventRollback, true)
		if err != nil {
			return
		}
		action.Status = to
	} else {
		action.RollbackError = outcome.Error
	}
	action.UpdatedAt = w.now()
	if err := w.store.SwapAction(ctx, models.ActionFailed, action, nil); err != nil {
		log.Warn().Err(err).Str("action", action.ID).Msg("Failed to record rollback")
		return
	}
	if outcome.Succeeded {
		log.Info().Str("action", action.ID).Msg("↩️ Action rolled back")
	} else {
		log.Error().Str("action", action.ID).Str("error", outcome.Error).Msg("Rollback failed")
	}
}

// GetAction returns an action, expiring it first if its approval lapsed.
func (w *Workflow) GetAction(ctx context.Context, actionID string) (*models.Action, *models.Approval, error) {
	action, approval, err := w.load(ctx, "approval.GetAction", actionID)
	if err != nil {
		return nil, nil, err
	}
	if now := w.now(); approval.Expired(now) {
		if err := w.expire(ctx, action, approval, now); err != nil {
			return nil, nil, err
		}
	}
	return action, approval, nil
}

// ListApprovals lists approvals by status (empty = all). Lapsed pending
// approvals are expired before they are returned.
func (w *Workflow) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	list, err := w.store.ListApprovals(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	now := w.now()
	out := make([]models.Approval, 0, len(list))
	for i := range list {
		ap := &list[i]
		if ap.Expired(now) {
			if action, err := w.store.GetAction(ctx, ap.ActionID); err == nil {
				if err := w.expire(ctx, action, ap, now); err != nil {
					log.Warn().Err(err).Str("approval", ap.ID).Msg("Lazy expiry failed")
				}
			}
			if status == models.ApprovalPending {
				continue
			}
		}
		out = append(out, *ap)
	}
	return out, nil
}

// CanView reports whether p may see action: its requester, or anyone
// allowed to decide it.
func CanView(p models.Principal, action *models.Action) bool {
	return (p.ID != "" && action.RequestedBy == p.ID) || p.CanApprove(action.Target.Scope, action.Type)
}

// GetActionFor is GetAction limited to what principal may view. Hidden
// actions are reported as not found.
func (w *Workflow) GetActionFor(ctx context.Context, actionID string, principal models.Principal) (*models.Action, *models.Approval, error) {
	const op = "approval.GetAction"
	action, approval, err := w.load(ctx, op, actionID)
	if err != nil {
		return nil, nil, err
	}
	if !CanView(principal, action) {
		return nil, nil, apperr.NotFound(op, "action %s not found", actionID)
	}
	if now := w.now(); approval.Expired(now) {
		if err := w.expire(ctx, action, approval, now); err != nil {
			return nil, nil, err
		}
	}
	return action, approval, nil
}

// ListApprovalsFor is ListApprovals limited to the actions principal may
// view.
func (w *Workflow) ListApprovalsFor(ctx context.Context, principal models.Principal, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	list, err := w.ListApprovals(ctx, status, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Approval, 0, min(len(list), max(limit, 0)))
	for _, ap := range list {
		action, err := w.store.GetAction(ctx, ap.ActionID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !CanView(principal, action) {
			continue
		}
		out = append(out, ap)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ExpireDue expires every pending approval past its deadline and returns
// how many it moved.
func (w *Workflow) ExpireDue(ctx context.Context) (int, error) {
	pending, err := w.store.ListApprovals(ctx, models.ApprovalPending, 0)
	if err != nil {
		return 0, err
	}
	now := w.now()
	n := 0
	for i := range pending {
		ap := &pending[i]
		if !ap.Expired(now) {
			continue
		}
		action, err := w.store.GetAction(ctx, ap.ActionID)
		if err != nil {
			continue
		}
		if err := w.expire(ctx, action, ap, now); err != nil {
			log.Warn().Err(err).Str("approval", ap.ID).Msg("Expiry failed")
			continue
		}
		n++
	}
	return n, nil
}

// expire moves action and approval to expired. Losing the race to another
// writer is not an error: the other writer already moved the action on.
func (w *Workflow) expire(ctx context.Context, action *models.Action, approval *models.Approval, now time.Time) error {
	to, err := Transition(action.Status, EventExpire, action.Rollback != nil)
	if err != nil {
		return nil
	}
	from := action.Status
	action.Status = to
	action.UpdatedAt = now
	approval.Status = models.ApprovalExpired
	if err := w.store.SwapAction(ctx, from, action, approval); err != nil {
		if store.IsStale(err) {
			return nil
		}
		return err
	}
	log.Info().Str("action", action.ID).Str("approval", approval.ID).Msg("⏱️ Approval expired")
	w.notify(ctx, NotifyApprovalDecided, action, approval)
	return nil
}

func (w *Workflow) load(ctx context.Context, op, actionID string) (*models.Action, *models.Approval, error) {
	action, err := w.store.GetAction(ctx, actionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperr.NotFound(op, "action %s not found", actionID)
		}
		return nil, nil, err
	}
	approval, err := w.store.GetApprovalForAction(ctx, actionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperr.NotFound(op, "action %s has no approval", actionID)
		}
		return nil, nil, err
	}
	return action, approval, nil
}

func (w *Workflow) swapError(op, actionID string, err error) error {
	var stale *store.ErrStale
	if errors.As(err, &stale) {
		return apperr.Conflict(op, "action %s changed concurrently (now %s)", actionID, stale.Actual)
	}
	if store.IsNotFound(err) {
		return apperr.NotFound(op, "action %s not found", actionID)
	}
	return err
}

func (w *Workflow) notify(ctx context.Context, eventType string, action *models.Action, approval *models.Approval) {
	ev := contracts.NotificationEvent{
		Type:      eventType,
		ActionID:  action.ID,
		Scope:     action.Target.Scope,
		Status:    string(action.Status),
		Timestamp: w.now(),
		Payload: map[string]any{
			"type":   string(action.Type),
			"target": action.Target.Name,
		},
	}
	if approval != nil {
		ev.ApprovalID = approval.ID
		ev.Payload["approval_status"] = string(approval.Status)
		if approval.Approver != "" {
			ev.Payload["approver"] = approval.Approver
		}
	}
	w.notifier.Notify(ctx, ev)
}

func policyEnv(action *models.Action, approval *models.Approval, principal models.Principal) PolicyEnv {
	return PolicyEnv{
		Principal:   principal.ID,
		Requester:   approval.Requester,
		ActionType:  string(action.Type),
		Scope:       action.Target.Scope,
		Target:      action.Target.Name,
		TargetKind:  action.Target.Kind,
		Parameters:  action.Parameters,
		Permissions: principal.Permissions,
	}
}
