package approval

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeStore struct {
	nextID  int
	records map[string]*repository.Approval
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*repository.Approval)}
}

func (s *fakeStore) Create(ctx context.Context, tx pgx.Tx, a *repository.Approval) error {
	s.nextID++
	a.ID = fmt.Sprintf("ap-%d", s.nextID)
	cp := *a
	s.records[a.ID] = &cp
	return nil
}

func (s *fakeStore) AdvanceStep(ctx context.Context, tx pgx.Tx, id string, nextStep int, nextRole string) error {
	a, ok := s.records[id]
	if !ok {
		return errors.NotFound("approval", id)
	}
	// Mirror the SQL guard: pending, and the step only moves forward by one.
	if a.Status != repository.ApprovalStatusPending || a.Step != nextStep-1 {
		return errors.Conflict("approval is not pending at the expected step")
	}
	a.Step = nextStep
	a.AssigneeRole = &nextRole
	return nil
}

func (s *fakeStore) Finalize(ctx context.Context, tx pgx.Tx, id, status, decidedBy string, comment *string) error {
	a, ok := s.records[id]
	if !ok {
		return errors.NotFound("approval", id)
	}
	if a.Status != repository.ApprovalStatusPending {
		return errors.Conflict("approval is not pending")
	}
	a.Status = status
	a.AssigneeRole = nil
	a.DecidedBy = &decidedBy
	a.DecisionComment = comment
	return nil
}

type hookSpy struct {
	approved int
	rejected int
}

func (h *hookSpy) hooks() Hooks {
	return Hooks{
		OnApproved: func(ctx context.Context, tx pgx.Tx) error { h.approved++; return nil },
		OnRejected: func(ctx context.Context, tx pgx.Tx) error { h.rejected++; return nil },
	}
}

func twoStepPolicy(limit *int64) *repository.ApprovalPolicy {
	return &repository.ApprovalPolicy{
		ID:         "pol-1",
		TenantID:   "t-1",
		EntityType: repository.EntityTypeBudget,
		Provider:   repository.ProviderInternal,
		Config: repository.PolicyConfig{
			Steps: []repository.PolicyStep{
				{Step: 1, Role: "GRANTS_MANAGER", Required: true},
				{Step: 2, Role: "FINANCE_MANAGER", Required: true},
			},
			AutoApproveLimit: limit,
		},
		IsActive: true,
	}
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

// ── internal provider ─────────────────────────────────────────────────────────

func TestInternalSubmit_AutoApproveWithinLimit(t *testing.T) {
	store := newFakeStore()
	spy := &hookSpy{}
	p := NewInternalProvider(store, logger.NewNop())

	a, err := p.Submit(context.Background(), nil, &SubmitInput{
		Policy:     twoStepPolicy(int64Ptr(50_000)),
		EntityType: repository.EntityTypeBudget,
		EntityID:   "b-1",
		TenantID:   "t-1",
		Amount:     50_000, // boundary: equal to the limit approves
		Hooks:      spy.hooks(),
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusApproved, a.Status)
	assert.Equal(t, 2, a.Step)
	assert.Equal(t, 2, a.TotalSteps)
	require.NotNil(t, a.DecidedBy)
	assert.Equal(t, "system", *a.DecidedBy)
	assert.Equal(t, 1, spy.approved)
}

func TestInternalSubmit_AboveLimitIsPending(t *testing.T) {
	store := newFakeStore()
	spy := &hookSpy{}
	p := NewInternalProvider(store, logger.NewNop())

	a, err := p.Submit(context.Background(), nil, &SubmitInput{
		Policy:     twoStepPolicy(int64Ptr(50_000)),
		EntityType: repository.EntityTypeBudget,
		EntityID:   "b-1",
		TenantID:   "t-1",
		Amount:     50_001,
		Hooks:      spy.hooks(),
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusPending, a.Status)
	assert.Equal(t, 1, a.Step)
	require.NotNil(t, a.AssigneeRole)
	assert.Equal(t, "GRANTS_MANAGER", *a.AssigneeRole)
	assert.Zero(t, spy.approved)
}

func TestInternalSubmit_NilLimitNeverAutoApproves(t *testing.T) {
	p := NewInternalProvider(newFakeStore(), logger.NewNop())

	a, err := p.Submit(context.Background(), nil, &SubmitInput{
		Policy: twoStepPolicy(nil),
		Amount: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ApprovalStatusPending, a.Status)
}

func TestInternalSubmit_EmptyStepsGetDefault(t *testing.T) {
	p := NewInternalProvider(newFakeStore(), logger.NewNop())
	policy := twoStepPolicy(nil)
	policy.Config.Steps = nil

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100})
	require.NoError(t, err)

	assert.Equal(t, 1, a.TotalSteps)
	require.NotNil(t, a.AssigneeRole)
	assert.Equal(t, "GRANTS_MANAGER", *a.AssigneeRole)
}

func TestInternalApprove_AdvancesAndRotatesRole(t *testing.T) {
	store := newFakeStore()
	spy := &hookSpy{}
	p := NewInternalProvider(store, logger.NewNop())
	policy := twoStepPolicy(nil)

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100, Hooks: spy.hooks()})
	require.NoError(t, err)

	a, err = p.Approve(context.Background(), nil, &DecideInput{
		Policy:   policy,
		Approval: a,
		ActorID:  "mgr-1",
		Hooks:    spy.hooks(),
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusPending, a.Status)
	assert.Equal(t, 2, a.Step)
	require.NotNil(t, a.AssigneeRole)
	assert.Equal(t, "FINANCE_MANAGER", *a.AssigneeRole)
	assert.Zero(t, spy.approved, "hook fires only on the terminal approval")
}

func TestInternalApprove_FinalStepIsTerminal(t *testing.T) {
	store := newFakeStore()
	spy := &hookSpy{}
	p := NewInternalProvider(store, logger.NewNop())
	policy := twoStepPolicy(nil)

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100})
	require.NoError(t, err)

	a, err = p.Approve(context.Background(), nil, &DecideInput{Policy: policy, Approval: a, ActorID: "mgr-1"})
	require.NoError(t, err)
	a, err = p.Approve(context.Background(), nil, &DecideInput{Policy: policy, Approval: a, ActorID: "fin-1", Hooks: spy.hooks()})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusApproved, a.Status)
	assert.Nil(t, a.AssigneeRole)
	require.NotNil(t, a.DecidedBy)
	assert.Equal(t, "fin-1", *a.DecidedBy)
	assert.Equal(t, 1, spy.approved)
}

func TestInternalApprove_TerminalIsImmutable(t *testing.T) {
	p := NewInternalProvider(newFakeStore(), logger.NewNop())
	policy := twoStepPolicy(nil)

	a := &repository.Approval{ID: "ap-x", Status: repository.ApprovalStatusApproved}
	_, err := p.Approve(context.Background(), nil, &DecideInput{Policy: policy, Approval: a})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestInternalApprove_StepsAreMonotonic(t *testing.T) {
	store := newFakeStore()
	p := NewInternalProvider(store, logger.NewNop())
	policy := twoStepPolicy(nil)

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100})
	require.NoError(t, err)

	// Advance once for real.
	_, err = p.Approve(context.Background(), nil, &DecideInput{Policy: policy, Approval: a, ActorID: "mgr-1"})
	require.NoError(t, err)

	// A racer holding the stale step-1 view cannot advance again.
	stale := &repository.Approval{ID: a.ID, Status: repository.ApprovalStatusPending, Step: 1, TotalSteps: 2}
	_, err = p.Approve(context.Background(), nil, &DecideInput{Policy: policy, Approval: stale, ActorID: "mgr-2"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, 2, store.records[a.ID].Step)
}

func TestInternalReject_RequiresComment(t *testing.T) {
	p := NewInternalProvider(newFakeStore(), logger.NewNop())
	policy := twoStepPolicy(nil)
	a := &repository.Approval{ID: "ap-1", Status: repository.ApprovalStatusPending, Step: 1, TotalSteps: 2}

	_, err := p.Reject(context.Background(), nil, &DecideInput{Policy: policy, Approval: a, ActorID: "mgr-1"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestInternalReject_TerminalAtAnyStep(t *testing.T) {
	store := newFakeStore()
	spy := &hookSpy{}
	p := NewInternalProvider(store, logger.NewNop())
	policy := twoStepPolicy(nil)

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100})
	require.NoError(t, err)

	a, err = p.Reject(context.Background(), nil, &DecideInput{
		Policy:   policy,
		Approval: a,
		ActorID:  "mgr-1",
		Comment:  strPtr("budget lines are not itemized"),
		Hooks:    spy.hooks(),
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusRejected, a.Status)
	assert.Equal(t, 1, spy.rejected)
	assert.Zero(t, spy.approved)
}

func TestInternalCancel_OnlyWhilePending(t *testing.T) {
	store := newFakeStore()
	p := NewInternalProvider(store, logger.NewNop())
	policy := twoStepPolicy(nil)

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: policy, Amount: 100})
	require.NoError(t, err)

	require.NoError(t, p.Cancel(context.Background(), nil, &DecideInput{Policy: policy, Approval: a, ActorID: "mgr-1"}))
	assert.Equal(t, repository.ApprovalStatusCancelled, store.records[a.ID].Status)

	decided := &repository.Approval{ID: "ap-z", Status: repository.ApprovalStatusRejected}
	err = p.Cancel(context.Background(), nil, &DecideInput{Policy: policy, Approval: decided})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

// ── external provider ─────────────────────────────────────────────────────────

type fakeApprover struct {
	ref        string
	submitErr  error
	cancelled  []string
	submission struct {
		entityType, entityID string
		amount               int64
	}
}

func (f *fakeApprover) Submit(ctx context.Context, entityType, entityID string, amount int64) (string, error) {
	f.submission.entityType = entityType
	f.submission.entityID = entityID
	f.submission.amount = amount
	return f.ref, f.submitErr
}

func (f *fakeApprover) Cancel(ctx context.Context, ref string) error {
	f.cancelled = append(f.cancelled, ref)
	return nil
}

func externalPolicy() *repository.ApprovalPolicy {
	return &repository.ApprovalPolicy{
		ID:         "pol-ext",
		Provider:   repository.ProviderExternal,
		EntityType: repository.EntityTypeContract,
		Config:     repository.PolicyConfig{ExternalSystem: "procurex"},
	}
}

func TestExternalSubmit_StoresReference(t *testing.T) {
	store := newFakeStore()
	approver := &fakeApprover{ref: "EXT-42"}
	p := NewExternalProvider(store, approver, logger.NewNop())

	a, err := p.Submit(context.Background(), nil, &SubmitInput{
		Policy:     externalPolicy(),
		EntityType: repository.EntityTypeContract,
		EntityID:   "c-1",
		TenantID:   "t-1",
		Amount:     900_000,
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ApprovalStatusPending, a.Status)
	require.NotNil(t, a.ExternalRef)
	assert.Equal(t, "EXT-42", *a.ExternalRef)
	assert.Equal(t, "c-1", approver.submission.entityID)
	assert.Equal(t, int64(900_000), approver.submission.amount)
}

func TestExternalSubmit_ClientFailureCreatesNothing(t *testing.T) {
	store := newFakeStore()
	approver := &fakeApprover{submitErr: fmt.Errorf("connection refused")}
	p := NewExternalProvider(store, approver, logger.NewNop())

	_, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: externalPolicy()})
	require.Error(t, err)
	assert.Empty(t, store.records)
}

func TestExternalDecisionsAreRejectedLocally(t *testing.T) {
	p := NewExternalProvider(newFakeStore(), &fakeApprover{}, logger.NewNop())
	in := &DecideInput{Policy: externalPolicy(), Approval: &repository.Approval{Status: repository.ApprovalStatusPending}}

	_, err := p.Approve(context.Background(), nil, in)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = p.Reject(context.Background(), nil, in)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestExternalCancel_WithdrawsRemotelyThenLocally(t *testing.T) {
	store := newFakeStore()
	approver := &fakeApprover{ref: "EXT-7"}
	p := NewExternalProvider(store, approver, logger.NewNop())

	a, err := p.Submit(context.Background(), nil, &SubmitInput{Policy: externalPolicy(), EntityID: "c-1"})
	require.NoError(t, err)

	require.NoError(t, p.Cancel(context.Background(), nil, &DecideInput{Policy: externalPolicy(), Approval: a, ActorID: "u-1"}))
	assert.Equal(t, []string{"EXT-7"}, approver.cancelled)
	assert.Equal(t, repository.ApprovalStatusCancelled, store.records[a.ID].Status)
}

func TestRegistry_ForPolicy(t *testing.T) {
	internal := NewInternalProvider(newFakeStore(), logger.NewNop())
	external := NewExternalProvider(newFakeStore(), &fakeApprover{}, logger.NewNop())
	r := NewRegistry(internal, external)

	p, err := r.ForPolicy(&repository.ApprovalPolicy{Provider: repository.ProviderInternal})
	require.NoError(t, err)
	assert.Same(t, internal, p)

	p, err = r.ForPolicy(&repository.ApprovalPolicy{Provider: repository.ProviderExternal})
	require.NoError(t, err)
	assert.Same(t, external, p)

	_, err = r.ForPolicy(&repository.ApprovalPolicy{Provider: "carrier-pigeon"})
	require.Error(t, err)
}
