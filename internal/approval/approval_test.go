package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeBackend struct {
	calls    atomic.Int32
	fail     map[models.ActionType]bool
	sawCtxOK atomic.Bool
}

func (b *fakeBackend) Kind() string { return "fake" }

func (b *fakeBackend) Execute(ctx context.Context, a *models.Action) (contracts.ExecutionOutcome, error) {
	b.calls.Add(1)
	b.sawCtxOK.Store(ctx.Err() == nil)
	if b.fail[a.Type] {
		return contracts.ExecutionOutcome{Succeeded: false, Error: string(a.Type) + " exploded"}, nil
	}
	return contracts.ExecutionOutcome{Succeeded: true, Output: "ok"}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, ev contracts.NotificationEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev.Type)
	n.mu.Unlock()
}

var (
	requester = models.Principal{ID: "dev", Permissions: []string{"execute:*"}, Scopes: []string{"prod"}}
	approver  = models.Principal{ID: "lead", Permissions: []string{"approve:prod:*", "execute:*"}, Scopes: []string{"prod"}}
)

type fixture struct {
	wf      *Workflow
	backend *fakeBackend
	notes   *recordingNotifier
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{backend: &fakeBackend{fail: map[models.ActionType]bool{}}, notes: &recordingNotifier{}, clock: &now}
	f.wf = NewWorkflow(s, f.backend,
		WithTTL(10*time.Minute),
		WithNotifier(f.notes),
		WithClock(func() time.Time { return *f.clock }),
	)
	return f
}

func (f *fixture) propose(t *testing.T, rb *models.RollbackDescriptor) (*models.Action, *models.Approval) {
	t.Helper()
	a := &models.Action{
		Type:     models.ActionDeploy,
		Target:   models.Target{Kind: "service", Name: "checkout", Scope: "prod"},
		Rollback: rb,
	}
	ap, err := f.wf.Propose(context.Background(), a, requester.ID)
	require.NoError(t, err)
	return a, ap
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from    models.ActionStatus
		event   Event
		rb      bool
		want    models.ActionStatus
		wantErr bool
	}{
		{models.ActionPendingApproval, EventApprove, false, models.ActionApproved, false},
		{models.ActionPendingApproval, EventReject, false, models.ActionRejected, false},
		{models.ActionPendingApproval, EventExpire, false, models.ActionExpired, false},
		{models.ActionApproved, EventStart, false, models.ActionExecuting, false},
		{models.ActionExecuting, EventFail, false, models.ActionFailed, false},
		{models.ActionFailed, EventRollback, true, models.ActionRolledBack, false},
		{models.ActionFailed, EventRollback, false, models.ActionFailed, true},
		{models.ActionRejected, EventApprove, false, models.ActionRejected, true},
		{models.ActionExpired, EventApprove, false, models.ActionExpired, true},
		{models.ActionPendingApproval, EventStart, false, models.ActionPendingApproval, true},
		{models.ActionSucceeded, EventFail, false, models.ActionSucceeded, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event, tt.rb)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrApprovalConflict)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApproveThenExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, ap := f.propose(t, nil)
	assert.Equal(t, models.ActionPendingApproval, a.Status)

	decided, err := f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	assert.Equal(t, "lead", decided.Approver)

	got, err := f.wf.Execute(ctx, ap.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSucceeded, got.Status)
	assert.Equal(t, int32(1), f.backend.calls.Load())
	assert.Equal(t, []string{NotifyApprovalPending, NotifyApprovalDecided, NotifyActionFinished}, f.notes.events)

	// The token is spent.
	_, err = f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, apperr.ErrApprovalConflict)
	assert.Equal(t, int32(1), f.backend.calls.Load())
}

func TestSelfApprovalDenied(t *testing.T) {
	f := newFixture(t)
	a, _ := f.propose(t, nil)
	self := models.Principal{ID: requester.ID, Permissions: []string{"approve:*"}}

	_, err := f.wf.Decide(context.Background(), a.ID, DecisionApprove, self, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestApproveWithoutGrantDenied(t *testing.T) {
	f := newFixture(t)
	a, _ := f.propose(t, nil)
	other := models.Principal{ID: "qa", Permissions: []string{"approve:staging:*"}}

	_, err := f.wf.Decide(context.Background(), a.ID, DecisionApprove, other, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestApprovingRejectedActionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, ap := f.propose(t, nil)

	_, err := f.wf.Decide(ctx, a.ID, DecisionReject, approver, "not today")
	require.NoError(t, err)

	_, err = f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	assert.ErrorIs(t, err, apperr.ErrApprovalConflict)

	_, err = f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, apperr.ErrApprovalConflict)
	assert.Zero(t, f.backend.calls.Load())
}

func TestExpiredApprovalCannotBeApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.propose(t, nil)

	*f.clock = f.clock.Add(11 * time.Minute)
	got, err := f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	assert.ErrorIs(t, err, apperr.ErrApprovalExpired)
	assert.Equal(t, models.ApprovalExpired, got.Status)

	action, _, err := f.wf.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionExpired, action.Status)

	_, err = f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	assert.ErrorIs(t, err, apperr.ErrApprovalExpired)
}

func TestApprovedTokenPastExpiryNotExecuted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, ap := f.propose(t, nil)
	_, err := f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	require.NoError(t, err)

	*f.clock = f.clock.Add(time.Hour)
	_, err = f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, apperr.ErrApprovalExpired)
	assert.Zero(t, f.backend.calls.Load())
}

func TestDecideChecksGrantBeforeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outsider := models.Principal{ID: "qa", Permissions: []string{"approve:staging:*"}}

	rejected, _ := f.propose(t, nil)
	_, err := f.wf.Decide(ctx, rejected.ID, DecisionReject, approver, "")
	require.NoError(t, err)
	_, err = f.wf.Decide(ctx, rejected.ID, DecisionApprove, outsider, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	lapsed, _ := f.propose(t, nil)
	*f.clock = f.clock.Add(11 * time.Minute)
	_, err = f.wf.Decide(ctx, lapsed.ID, DecisionApprove, outsider, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestVisibilityFollowsRequesterAndGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.propose(t, nil)
	outsider := models.Principal{ID: "qa", Permissions: []string{"approve:staging:*"}}

	for _, p := range []models.Principal{requester, approver} {
		list, err := f.wf.ListApprovalsFor(ctx, p, models.ApprovalPending, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1, p.ID)
		_, _, err = f.wf.GetActionFor(ctx, a.ID, p)
		assert.NoError(t, err, p.ID)
	}

	list, err := f.wf.ListApprovalsFor(ctx, outsider, "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, _, err = f.wf.GetActionFor(ctx, a.ID, outsider)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDecideUnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Decide(context.Background(), "nope", DecisionApprove, approver, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRacingApprovalsOneWins(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a, _ := f.propose(t, nil)

	approvers := []models.Principal{
		approver,
		{ID: "lead2", Permissions: []string{"approve:*"}},
		{ID: "lead3", Permissions: []string{"approve:prod:deploy"}},
		{ID: "lead4", Permissions: []string{"approve:*"}},
	}

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, p := range approvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.wf.Decide(context.Background(), a.ID, DecisionApprove, p, "")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperr.ErrApprovalConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(len(approvers)-1), conflicts.Load())
}

func TestFailedActionRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.fail[models.ActionDeploy] = true
	a, ap := f.propose(t, &models.RollbackDescriptor{Type: models.ActionRollback, Parameters: map[string]string{"to": "v1"}})
	_, err := f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	require.NoError(t, err)

	got, err := f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, apperr.ErrExecutionFailure)
	assert.Equal(t, models.ActionRolledBack, got.Status)
	assert.Equal(t, "deploy exploded", got.Error)
	assert.Equal(t, int32(2), f.backend.calls.Load())
}

func TestFailedRollbackStaysFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.fail[models.ActionDeploy] = true
	f.backend.fail[models.ActionRollback] = true
	a, ap := f.propose(t, &models.RollbackDescriptor{Type: models.ActionRollback})
	_, err := f.wf.Decide(ctx, a.ID, DecisionApprove, approver, "")
	require.NoError(t, err)

	got, err := f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, apperr.ErrExecutionFailure)
	assert.Equal(t, models.ActionFailed, got.Status)
	assert.Equal(t, "rollback exploded", got.RollbackError)

	stored, _, err := f.wf.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, stored.Status)
}

func TestCancelledCallerBeforeStartDoesNotExecute(t *testing.T) {
	f := newFixture(t)
	a, ap := f.propose(t, nil)
	_, err := f.wf.Decide(context.Background(), a.ID, DecisionApprove, approver, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.wf.Execute(ctx, ap.ID, requester)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.backend.calls.Load())

	// The approval is still usable.
	got, err := f.wf.Execute(context.Background(), ap.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSucceeded, got.Status)
	assert.True(t, f.backend.sawCtxOK.Load())
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.propose(t, nil)
	f.propose(t, nil)

	n, err := f.wf.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*f.clock = f.clock.Add(time.Hour)
	n, err = f.wf.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := f.wf.ListApprovals(ctx, models.ApprovalPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(f.wf, time.Second).Start(ctx)
		close(done)
	}()
	cancel()
	<-done
}

func TestCompilePoliciesRejectsBadExpression(t *testing.T) {
	_, err := CompilePolicies([]PolicyRule{{Name: "bad", Expression: "principal +"}})
	assert.Error(t, err)

	_, err = CompilePolicies([]PolicyRule{{Name: "not_bool", Expression: "scope"}})
	assert.Error(t, err)
}

func TestCustomPolicy(t *testing.T) {
	f := newFixture(t)
	policies, err := CompilePolicies([]PolicyRule{
		{Name: "no_self_approval", Expression: "principal != requester"},
		{Name: "prod_needs_lead", Expression: `scope != "prod" || principal startsWith "lead"`},
	})
	require.NoError(t, err)
	f.wf.policies = policies

	a, _ := f.propose(t, nil)
	_, err = f.wf.Decide(context.Background(), a.ID, DecisionApprove, models.Principal{ID: "ops", Permissions: []string{"approve:*"}}, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.wf.Decide(context.Background(), a.ID, DecisionApprove, approver, "")
	assert.NoError(t, err)
}
