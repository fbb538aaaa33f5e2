// Package approval implements the human-in-the-loop gate in front of every
// mutating action: proposal, decision, expiry and execution.
//
// Every state change is computed by Transition and persisted through the
// store's compare-and-swap, so two racing writers never both succeed.
package approval

import (
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Event drives the action lifecycle.
type Event string

const (
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventExpire   Event = "expire"
	EventStart    Event = "start"
	EventSucceed  Event = "succeed"
	EventFail     Event = "fail"
	EventRollback Event = "rollback"
)

type edge struct {
	from  models.ActionStatus
	event Event
}

var transitions = map[edge]models.ActionStatus{
	{models.ActionPendingApproval, EventApprove}: models.ActionApproved,
	{models.ActionPendingApproval, EventReject}:  models.ActionRejected,
	{models.ActionPendingApproval, EventExpire}:  models.ActionExpired,
	{models.ActionApproved, EventStart}:          models.ActionExecuting,
	{models.ActionApproved, EventExpire}:         models.ActionExpired,
	{models.ActionExecuting, EventSucceed}:       models.ActionSucceeded,
	{models.ActionExecuting, EventFail}:          models.ActionFailed,
	{models.ActionFailed, EventRollback}:         models.ActionRolledBack,
}

// Transition returns the state reached from `from` on event. Rolling back
// is only possible when the action carries a rollback descriptor.
func Transition(from models.ActionStatus, event Event, hasRollback bool) (models.ActionStatus, error) {
	if event == EventRollback && !hasRollback {
		return from, apperr.Conflict("approval.Transition", "action in %s has no rollback descriptor", from)
	}
	to, ok := transitions[edge{from, event}]
	if !ok {
		return from, apperr.Conflict("approval.Transition", "cannot %s an action in %s", event, from)
	}
	return to, nil
}

// Terminal reports whether no further event can move status. A failed
// action is terminal only when it cannot be rolled back.
func Terminal(status models.ActionStatus, hasRollback bool) bool {
	switch status {
	case models.ActionRejected, models.ActionExpired, models.ActionSucceeded, models.ActionRolledBack:
		return true
	case models.ActionFailed:
		return !hasRollback
	default:
		return false
	}
}
