package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// ContractRepository handles contract persistence. Status moves only through
// the workflow engine.
type ContractRepository struct {
	db *database.DB
}

// NewContractRepository creates a new ContractRepository.
func NewContractRepository(db *database.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

const contractColumns = `
	id, budget_id, project_id, partner_id, tenant_id, title, status,
	document_key, approval_provider, approval_ref,
	amount, currency, version,
	created_by, created_at, updated_by, updated_at
`

// Create inserts a new draft contract provisioned from a budget.
func (r *ContractRepository) Create(ctx context.Context, c *Contract) error {
	query := `
		INSERT INTO contracts
		    (budget_id, project_id, partner_id, tenant_id, title, status,
		     amount, currency, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::contract_status,
		        $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.BudgetID,
		c.ProjectID,
		c.PartnerID,
		c.TenantID,
		c.Title,
		c.Status,
		c.Amount,
		c.Currency,
		c.CreatedBy,
	).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create contract")
	}
	return nil
}

// CreateTx inserts a contract on an existing transaction. Used when contract
// provisioning is a side effect of another entity's transition.
func (r *ContractRepository) CreateTx(ctx context.Context, tx pgx.Tx, c *Contract) error {
	query := `
		INSERT INTO contracts
		    (budget_id, project_id, partner_id, tenant_id, title, status,
		     amount, currency, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::contract_status,
		        $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		c.BudgetID,
		c.ProjectID,
		c.PartnerID,
		c.TenantID,
		c.Title,
		c.Status,
		c.Amount,
		c.Currency,
		c.CreatedBy,
	).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create contract")
	}
	return nil
}

// GetByID retrieves a contract by primary key.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`

	c, err := r.scanContract(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("contract", id)
	}
	return c, err
}

// List returns contracts for a tenant, optionally filtered by budget and status.
func (r *ContractRepository) List(ctx context.Context, tenantID string, budgetID, status *string, limit, offset int) ([]*Contract, error) {
	query := `SELECT ` + contractColumns + `
		FROM contracts
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR budget_id = $2)
		  AND ($3::text IS NULL OR status = $3::contract_status)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Query(ctx, query, tenantID, budgetID, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list contracts")
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		c, err := r.scanContract(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan contract")
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

// SetApprovalRef records which provider and approval reference govern the
// contract's pending approval. Runs on the submission transaction.
func (r *ContractRepository) SetApprovalRef(ctx context.Context, tx pgx.Tx, id, provider, ref string) error {
	query := `
		UPDATE contracts
		SET approval_provider = $2,
		    approval_ref      = $3,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returned string
	err := tx.QueryRow(ctx, query, id, provider, ref).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("contract", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set approval reference")
	}
	return nil
}

// ── workflow.Store ────────────────────────────────────────────────────────────

// GetForUpdate loads a contract snapshot under a row lock.
func (r *ContractRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*workflow.Snapshot, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1 FOR UPDATE`

	c, err := r.scanContract(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("contract", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock contract")
	}
	return contractSnapshot(c), nil
}

// ApplyTransition persists the new status plus any field mutations and bumps
// the version. Recognized mutation keys: document_key, approval_provider,
// approval_ref.
func (r *ContractRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, id, targetState string, mutations map[string]any, actorID string) (*workflow.Snapshot, error) {
	query := `
		UPDATE contracts
		SET status            = $2::contract_status,
		    document_key      = COALESCE($3, document_key),
		    approval_provider = COALESCE($4, approval_provider),
		    approval_ref      = COALESCE($5, approval_ref),
		    updated_by        = $6,
		    version           = version + 1,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING ` + contractColumns

	var documentKey, approvalProvider, approvalRef *string
	if v, ok := mutations["document_key"].(string); ok {
		documentKey = &v
	}
	if v, ok := mutations["approval_provider"].(string); ok {
		approvalProvider = &v
	}
	if v, ok := mutations["approval_ref"].(string); ok {
		approvalRef = &v
	}

	c, err := r.scanContract(tx.QueryRow(ctx, query, id, targetState, documentKey, approvalProvider, approvalRef, actorID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("contract", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to apply contract transition")
	}
	return contractSnapshot(c), nil
}

// contractSnapshot projects a contract into the engine's snapshot shape.
func contractSnapshot(c *Contract) *workflow.Snapshot {
	return &workflow.Snapshot{
		ID:      c.ID,
		State:   c.Status,
		Version: c.Version,
		Fields: map[string]any{
			"budget_id":         c.BudgetID,
			"project_id":        c.ProjectID,
			"partner_id":        c.PartnerID,
			"tenant_id":         c.TenantID,
			"title":             c.Title,
			"document_key":      derefOrNil(c.DocumentKey),
			"approval_provider": derefOrNil(c.ApprovalProvider),
			"approval_ref":      derefOrNil(c.ApprovalRef),
			"amount":            c.Amount,
			"currency":          c.Currency,
		},
	}
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type contractScanner interface {
	Scan(dest ...any) error
}

func (r *ContractRepository) scanContract(row contractScanner) (*Contract, error) {
	c := &Contract{}
	err := row.Scan(
		&c.ID,
		&c.BudgetID,
		&c.ProjectID,
		&c.PartnerID,
		&c.TenantID,
		&c.Title,
		&c.Status,
		&c.DocumentKey,
		&c.ApprovalProvider,
		&c.ApprovalRef,
		&c.Amount,
		&c.Currency,
		&c.Version,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedBy,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
