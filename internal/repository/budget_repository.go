package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// BudgetRepository handles partner budget persistence. State-changing updates
// go through the workflow engine via the Store methods; plain CRUD never
// touches status.
type BudgetRepository struct {
	db *database.DB
}

// NewBudgetRepository creates a new BudgetRepository.
func NewBudgetRepository(db *database.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

const budgetColumns = `
	id, project_id, partner_id, tenant_id, title, status,
	rules, tranches, total_amount, allocated_amount, currency, version,
	created_by, created_at, updated_by, updated_at
`

// Create inserts a new draft budget.
func (r *BudgetRepository) Create(ctx context.Context, b *Budget) error {
	rulesJSON, err := json.Marshal(b.Rules)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal budget rules")
	}

	query := `
		INSERT INTO budgets
		    (project_id, partner_id, tenant_id, title, status,
		     rules, total_amount, currency, created_by)
		VALUES ($1, $2, $3, $4, $5::budget_status,
		        $6, $7, $8, $9)
		RETURNING id, allocated_amount, version, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		b.ProjectID,
		b.PartnerID,
		b.TenantID,
		b.Title,
		b.Status,
		rulesJSON,
		b.TotalAmount,
		b.Currency,
		b.CreatedBy,
	).Scan(&b.ID, &b.AllocatedAmount, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create budget")
	}
	return nil
}

// GetByID retrieves a budget by primary key.
func (r *BudgetRepository) GetByID(ctx context.Context, id string) (*Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1`

	b, err := r.scanBudget(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	return b, err
}

// List returns budgets for a tenant, optionally filtered by project and status.
func (r *BudgetRepository) List(ctx context.Context, tenantID string, projectID, status *string, limit, offset int) ([]*Budget, error) {
	query := `SELECT ` + budgetColumns + `
		FROM budgets
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR project_id = $2)
		  AND ($3::text IS NULL OR status = $3::budget_status)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Query(ctx, query, tenantID, projectID, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list budgets")
	}
	defer rows.Close()

	var budgets []*Budget
	for rows.Next() {
		b, err := r.scanBudget(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan budget")
		}
		budgets = append(budgets, b)
	}
	return budgets, nil
}

// UpdateDraft updates mutable fields of a DRAFT budget. Non-draft budgets are
// immutable outside the workflow engine.
func (r *BudgetRepository) UpdateDraft(ctx context.Context, b *Budget) error {
	rulesJSON, err := json.Marshal(b.Rules)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal budget rules")
	}

	query := `
		UPDATE budgets
		SET title        = $2,
		    rules        = $3,
		    total_amount = $4,
		    currency     = $5,
		    updated_by   = $6,
		    version      = version + 1,
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = 'DRAFT'::budget_status
		RETURNING version, updated_at
	`

	err = r.db.QueryRow(ctx, query, b.ID, b.Title, rulesJSON, b.TotalAmount, b.Currency, b.UpdatedBy).
		Scan(&b.Version, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Conflict("budget not found or not in DRAFT")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update budget")
	}
	return nil
}

// ── workflow.Store ────────────────────────────────────────────────────────────

// GetForUpdate loads a budget snapshot under a row lock.
func (r *BudgetRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*workflow.Snapshot, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1 FOR UPDATE`

	b, err := r.scanBudget(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock budget")
	}
	return budgetSnapshot(b), nil
}

// ApplyTransition persists the new status plus any field mutations and bumps
// the version. Recognized mutation keys: title, rules, tranches,
// allocated_amount.
func (r *BudgetRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, id, targetState string, mutations map[string]any, actorID string) (*workflow.Snapshot, error) {
	query := `
		UPDATE budgets
		SET status           = $2::budget_status,
		    title            = COALESCE($3, title),
		    rules            = COALESCE($4, rules),
		    tranches         = COALESCE($5, tranches),
		    allocated_amount = COALESCE($6, allocated_amount),
		    updated_by       = $7,
		    version          = version + 1,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING ` + budgetColumns

	var (
		title           *string
		rulesJSON       []byte
		tranchesJSON    []byte
		allocatedAmount *int64
	)
	if v, ok := mutations["title"].(string); ok {
		title = &v
	}
	if v, ok := mutations["rules"].(map[string]any); ok {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal budget rules")
		}
		rulesJSON = data
	}
	if v, ok := mutations["tranches"].([]Tranche); ok {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal tranches")
		}
		tranchesJSON = data
	}
	if v, ok := mutations["allocated_amount"].(int64); ok {
		allocatedAmount = &v
	}

	b, err := r.scanBudget(tx.QueryRow(ctx, query, id, targetState, title, rulesJSON, tranchesJSON, allocatedAmount, actorID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to apply budget transition")
	}
	return budgetSnapshot(b), nil
}

// budgetSnapshot projects a budget into the engine's snapshot shape.
func budgetSnapshot(b *Budget) *workflow.Snapshot {
	return &workflow.Snapshot{
		ID:      b.ID,
		State:   b.Status,
		Version: b.Version,
		Fields: map[string]any{
			"project_id":       b.ProjectID,
			"partner_id":       b.PartnerID,
			"tenant_id":        b.TenantID,
			"title":            b.Title,
			"rules":            b.Rules,
			"tranches":         b.Tranches,
			"total_amount":     b.TotalAmount,
			"allocated_amount": b.AllocatedAmount,
			"currency":         b.Currency,
		},
	}
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type budgetScanner interface {
	Scan(dest ...any) error
}

func (r *BudgetRepository) scanBudget(row budgetScanner) (*Budget, error) {
	b := &Budget{}
	var rulesJSON, tranchesJSON []byte

	err := row.Scan(
		&b.ID,
		&b.ProjectID,
		&b.PartnerID,
		&b.TenantID,
		&b.Title,
		&b.Status,
		&rulesJSON,
		&tranchesJSON,
		&b.TotalAmount,
		&b.AllocatedAmount,
		&b.Currency,
		&b.Version,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedBy,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &b.Rules); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal budget rules")
		}
	}
	if len(tranchesJSON) > 0 {
		if err := json.Unmarshal(tranchesJSON, &b.Tranches); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal tranches")
		}
	}
	return b, nil
}
