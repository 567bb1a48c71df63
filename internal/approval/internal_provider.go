package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// defaultStepRole is used when a policy carries no steps.
const defaultStepRole = "GRANTS_MANAGER"

// systemActor marks decisions made by auto-approval rather than a user.
const systemActor = "system"

// InternalProvider runs the multi-step sequential approval chain.
//
// State machine: PENDING(step=n) --approve--> PENDING(step=n+1) for
// n < totalSteps; PENDING(step=totalSteps) --approve--> APPROVED (terminal);
// PENDING(any) --reject--> REJECTED (terminal). Terminal statuses never change.
type InternalProvider struct {
	approvals Store
	log       *logger.Logger
}

// NewInternalProvider creates an internal provider.
func NewInternalProvider(approvals Store, log *logger.Logger) *InternalProvider {
	return &InternalProvider{approvals: approvals, log: log}
}

// Submit evaluates the policy's auto-approval threshold. Within the limit the
// approval is created already terminal and the approve hook fires in the same
// transaction; otherwise a PENDING approval starts at step 1 with the first
// step's assignee role.
func (p *InternalProvider) Submit(ctx context.Context, tx pgx.Tx, in *SubmitInput) (*repository.Approval, error) {
	steps := in.Policy.Config.Steps
	if len(steps) == 0 {
		steps = []repository.PolicyStep{{Step: 1, Role: defaultStepRole, Required: true}}
	}

	limit := in.Policy.Config.AutoApproveLimit
	if limit != nil && in.Amount <= *limit {
		now := time.Now()
		decidedBy := systemActor
		a := &repository.Approval{
			PolicyID:    in.Policy.ID,
			EntityType:  in.EntityType,
			EntityID:    in.EntityID,
			TenantID:    in.TenantID,
			Status:      repository.ApprovalStatusApproved,
			Step:        len(steps),
			TotalSteps:  len(steps),
			RequestedBy: in.RequestedBy,
			Amount:      in.Amount,
			DecidedBy:   &decidedBy,
			DecidedAt:   &now,
		}
		if err := p.approvals.Create(ctx, tx, a); err != nil {
			return nil, err
		}
		if in.Hooks.OnApproved != nil {
			if err := in.Hooks.OnApproved(ctx, tx); err != nil {
				return nil, err
			}
		}

		p.log.Info().
			Str("entity_type", in.EntityType).
			Str("entity_id", in.EntityID).
			Int64("amount", in.Amount).
			Int64("limit", *limit).
			Msg("approval auto-approved within threshold")

		return a, nil
	}

	role := steps[0].Role
	a := &repository.Approval{
		PolicyID:     in.Policy.ID,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		TenantID:     in.TenantID,
		Status:       repository.ApprovalStatusPending,
		Step:         1,
		TotalSteps:   len(steps),
		AssigneeRole: &role,
		RequestedBy:  in.RequestedBy,
		Amount:       in.Amount,
	}
	if err := p.approvals.Create(ctx, tx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Approve advances the approval one step. At the final step the approval
// becomes terminal APPROVED and the approve hook fires; otherwise the
// assignee role rotates to the next step's role.
func (p *InternalProvider) Approve(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error) {
	a := in.Approval
	if a.Status != repository.ApprovalStatusPending {
		return nil, errors.Conflict(fmt.Sprintf("approval is %s, not PENDING", a.Status))
	}

	if a.Step < a.TotalSteps {
		nextStep := a.Step + 1
		nextRole := p.roleForStep(in.Policy, nextStep)
		if err := p.approvals.AdvanceStep(ctx, tx, a.ID, nextStep, nextRole); err != nil {
			return nil, err
		}
		a.Step = nextStep
		a.AssigneeRole = &nextRole
		return a, nil
	}

	if err := p.approvals.Finalize(ctx, tx, a.ID, repository.ApprovalStatusApproved, in.ActorID, in.Comment); err != nil {
		return nil, err
	}
	a.Status = repository.ApprovalStatusApproved
	a.AssigneeRole = nil
	a.DecidedBy = &in.ActorID
	a.DecisionComment = in.Comment

	if in.Hooks.OnApproved != nil {
		if err := in.Hooks.OnApproved(ctx, tx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Reject is terminal at any step and fires the reject hook.
func (p *InternalProvider) Reject(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error) {
	a := in.Approval
	if a.Status != repository.ApprovalStatusPending {
		return nil, errors.Conflict(fmt.Sprintf("approval is %s, not PENDING", a.Status))
	}
	if in.Comment == nil || *in.Comment == "" {
		return nil, errors.InvalidInput("comment", "rejection comment is required")
	}

	if err := p.approvals.Finalize(ctx, tx, a.ID, repository.ApprovalStatusRejected, in.ActorID, in.Comment); err != nil {
		return nil, err
	}
	a.Status = repository.ApprovalStatusRejected
	a.AssigneeRole = nil
	a.DecidedBy = &in.ActorID
	a.DecisionComment = in.Comment

	if in.Hooks.OnRejected != nil {
		if err := in.Hooks.OnRejected(ctx, tx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Cancel withdraws a pending approval without firing hooks.
func (p *InternalProvider) Cancel(ctx context.Context, tx pgx.Tx, in *DecideInput) error {
	if in.Approval.Status != repository.ApprovalStatusPending {
		return errors.Conflict(fmt.Sprintf("approval is %s, not PENDING", in.Approval.Status))
	}
	return p.approvals.Finalize(ctx, tx, in.Approval.ID, repository.ApprovalStatusCancelled, in.ActorID, in.Comment)
}

// roleForStep returns the assignee role for a step number, defaulting when the
// policy carries no matching step.
func (p *InternalProvider) roleForStep(policy *repository.ApprovalPolicy, step int) string {
	for _, s := range policy.Config.Steps {
		if s.Step == step {
			return s.Role
		}
	}
	return defaultStepRole
}
