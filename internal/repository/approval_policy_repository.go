package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
)

// ApprovalPolicyRepository handles CRUD for approval_policies.
type ApprovalPolicyRepository struct {
	db *database.DB
}

// NewApprovalPolicyRepository creates a new ApprovalPolicyRepository.
func NewApprovalPolicyRepository(db *database.DB) *ApprovalPolicyRepository {
	return &ApprovalPolicyRepository{db: db}
}

const policyColumns = `
	id, tenant_id, entity_type, scope, provider, config,
	is_active, priority, created_at, updated_at
`

// Create inserts a new approval policy.
func (r *ApprovalPolicyRepository) Create(ctx context.Context, p *ApprovalPolicy) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal policy config")
	}

	query := `
		INSERT INTO approval_policies
		    (tenant_id, entity_type, scope, provider, config, is_active, priority)
		VALUES ($1, $2, $3, $4::approval_provider, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		p.TenantID,
		p.EntityType,
		p.Scope,
		p.Provider,
		configJSON,
		p.IsActive,
		p.Priority,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval policy")
	}
	return nil
}

// GetByID retrieves a policy by primary key.
func (r *ApprovalPolicyRepository) GetByID(ctx context.Context, id string) (*ApprovalPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM approval_policies WHERE id = $1`

	p, err := r.scanPolicy(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_policy", id)
	}
	return p, err
}

// List returns policies for a tenant and entity type in priority order.
func (r *ApprovalPolicyRepository) List(ctx context.Context, tenantID, entityType string, activeOnly bool) ([]*ApprovalPolicy, error) {
	query := `SELECT ` + policyColumns + `
		FROM approval_policies
		WHERE tenant_id = $1 AND entity_type = $2
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := r.db.Query(ctx, query, tenantID, entityType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval policies")
	}
	defer rows.Close()

	var policies []*ApprovalPolicy
	for rows.Next() {
		p, err := r.scanPolicy(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval policy")
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// FindMatching returns the highest-priority active policy for an entity type
// and scope, falling back to the tenant's unscoped default. Returns nil when
// nothing matches.
func (r *ApprovalPolicyRepository) FindMatching(ctx context.Context, tenantID, entityType, scope string) (*ApprovalPolicy, error) {
	policies, err := r.List(ctx, tenantID, entityType, true)
	if err != nil {
		return nil, err
	}

	for _, p := range policies {
		if p.Scope == scope {
			return p, nil
		}
	}
	for _, p := range policies {
		if p.Scope == "" {
			return p, nil
		}
	}
	return nil, nil
}

// Update persists changes to an existing policy.
func (r *ApprovalPolicyRepository) Update(ctx context.Context, p *ApprovalPolicy) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal policy config")
	}

	query := `
		UPDATE approval_policies
		SET scope      = $2,
		    provider   = $3::approval_provider,
		    config     = $4,
		    is_active  = $5,
		    priority   = $6,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query, p.ID, p.Scope, p.Provider, configJSON, p.IsActive, p.Priority).
		Scan(&p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_policy", p.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval policy")
	}
	return nil
}

// Deactivate soft-disables a policy. Policies referenced by approvals are
// never deleted.
func (r *ApprovalPolicyRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_policies
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returned string
	err := r.db.QueryRow(ctx, query, id).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_policy", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type policyScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalPolicyRepository) scanPolicy(row policyScanner) (*ApprovalPolicy, error) {
	p := &ApprovalPolicy{}
	var configJSON []byte

	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.EntityType,
		&p.Scope,
		&p.Provider,
		&configJSON,
		&p.IsActive,
		&p.Priority,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal policy config")
	}
	return p, nil
}
