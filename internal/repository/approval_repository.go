package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
)

// ApprovalRepository persists approval request instances. All mutations run on
// the caller's transaction so decisions commit atomically with the entity
// side effects they trigger.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, policy_id, entity_type, entity_id, tenant_id, status,
	step, total_steps, assignee_role, requested_by, amount,
	decided_by, decided_at, decision_comment, external_ref,
	created_at, updated_at
`

// Create inserts a new approval on the caller's transaction.
func (r *ApprovalRepository) Create(ctx context.Context, tx pgx.Tx, a *Approval) error {
	query := `
		INSERT INTO approvals
		    (policy_id, entity_type, entity_id, tenant_id, status,
		     step, total_steps, assignee_role, requested_by, amount,
		     decided_by, decided_at, decision_comment, external_ref)
		VALUES ($1, $2, $3, $4, $5::approval_status,
		        $6, $7, $8, $9, $10,
		        $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		a.PolicyID,
		a.EntityType,
		a.EntityID,
		a.TenantID,
		a.Status,
		a.Step,
		a.TotalSteps,
		a.AssigneeRole,
		a.RequestedBy,
		a.Amount,
		a.DecidedBy,
		a.DecidedAt,
		a.DecisionComment,
		a.ExternalRef,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

// GetByID retrieves an approval by primary key.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", id)
	}
	return a, err
}

// GetForUpdate loads an approval under a row lock so concurrent decisions on
// the same request serialize.
func (r *ApprovalRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1 FOR UPDATE`

	a, err := r.scanApproval(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval")
	}
	return a, nil
}

// GetPendingByEntity returns the open approval for an entity, or nil.
func (r *ApprovalRepository) GetPendingByEntity(ctx context.Context, entityType, entityID string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE entity_type = $1 AND entity_id = $2
		  AND status = 'PENDING'::approval_status
		ORDER BY created_at DESC
		LIMIT 1
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListPendingForRole returns pending approvals awaiting a given role in a tenant.
func (r *ApprovalRepository) ListPendingForRole(ctx context.Context, tenantID, role string) ([]*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = $1
		  AND status = 'PENDING'::approval_status
		  AND assignee_role = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

// AdvanceStep moves a pending approval to the next step and rotates the
// assignee role. Guarded so the step can only move forward by one.
func (r *ApprovalRepository) AdvanceStep(ctx context.Context, tx pgx.Tx, id string, nextStep int, nextRole string) error {
	query := `
		UPDATE approvals
		SET step          = $2,
		    assignee_role = $3,
		    updated_at    = NOW()
		WHERE id = $1
		  AND status = 'PENDING'::approval_status
		  AND step = $2 - 1
		RETURNING id
	`

	var returned string
	err := tx.QueryRow(ctx, query, id, nextStep, nextRole).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.Conflict("approval is not pending at the expected step")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to advance approval step")
	}
	return nil
}

// Finalize moves a pending approval to a terminal status with decision
// metadata. Terminal rows never change again.
func (r *ApprovalRepository) Finalize(ctx context.Context, tx pgx.Tx, id, status, decidedBy string, comment *string) error {
	query := `
		UPDATE approvals
		SET status           = $2::approval_status,
		    assignee_role    = NULL,
		    decided_by       = $3,
		    decided_at       = NOW(),
		    decision_comment = $4,
		    updated_at       = NOW()
		WHERE id = $1
		  AND status = 'PENDING'::approval_status
		RETURNING id
	`

	var returned string
	err := tx.QueryRow(ctx, query, id, status, decidedBy, comment).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.Conflict("approval is not pending")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to finalize approval")
	}
	return nil
}

// SetExternalRef stores the reference returned by an external approval system.
func (r *ApprovalRepository) SetExternalRef(ctx context.Context, tx pgx.Tx, id, ref string) error {
	query := `
		UPDATE approvals
		SET external_ref = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returned string
	err := tx.QueryRow(ctx, query, id, ref).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.PolicyID,
		&a.EntityType,
		&a.EntityID,
		&a.TenantID,
		&a.Status,
		&a.Step,
		&a.TotalSteps,
		&a.AssigneeRole,
		&a.RequestedBy,
		&a.Amount,
		&a.DecidedBy,
		&a.DecidedAt,
		&a.DecisionComment,
		&a.ExternalRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
