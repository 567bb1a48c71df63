package approval

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// ExternalProvider delegates submit and cancel to an outside approval system
// and stores only its reference. Decisions arrive through the external
// system's own channel, not through this service.
type ExternalProvider struct {
	approvals Store
	client    ExternalApprover
	log       *logger.Logger
}

// NewExternalProvider creates an external provider.
func NewExternalProvider(approvals Store, client ExternalApprover, log *logger.Logger) *ExternalProvider {
	return &ExternalProvider{approvals: approvals, client: client, log: log}
}

// Submit registers the request with the external system and records the
// returned reference on a PENDING approval.
func (p *ExternalProvider) Submit(ctx context.Context, tx pgx.Tx, in *SubmitInput) (*repository.Approval, error) {
	ref, err := p.client.Submit(ctx, in.EntityType, in.EntityID, in.Amount)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "external approval submission failed")
	}

	a := &repository.Approval{
		PolicyID:    in.Policy.ID,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		TenantID:    in.TenantID,
		Status:      repository.ApprovalStatusPending,
		Step:        1,
		TotalSteps:  1,
		RequestedBy: in.RequestedBy,
		Amount:      in.Amount,
		ExternalRef: &ref,
	}
	if err := p.approvals.Create(ctx, tx, a); err != nil {
		return nil, err
	}

	p.log.Info().
		Str("entity_type", in.EntityType).
		Str("entity_id", in.EntityID).
		Str("external_ref", ref).
		Msg("approval delegated to external system")

	return a, nil
}

// Approve is not available for externally-managed approvals.
func (p *ExternalProvider) Approve(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error) {
	return nil, errors.Conflict("approval is managed by an external system")
}

// Reject is not available for externally-managed approvals.
func (p *ExternalProvider) Reject(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error) {
	return nil, errors.Conflict("approval is managed by an external system")
}

// Cancel withdraws the request from the external system, then cancels the
// local record.
func (p *ExternalProvider) Cancel(ctx context.Context, tx pgx.Tx, in *DecideInput) error {
	if in.Approval.Status != repository.ApprovalStatusPending {
		return errors.Conflict("approval is not PENDING")
	}
	if in.Approval.ExternalRef != nil {
		if err := p.client.Cancel(ctx, *in.Approval.ExternalRef); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "external approval cancellation failed")
		}
	}
	return p.approvals.Finalize(ctx, tx, in.Approval.ID, repository.ApprovalStatusCancelled, in.ActorID, in.Comment)
}
