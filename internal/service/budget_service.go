package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/approval"
	"github.com/grantline-io/be-grants/internal/audit"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// ActionMeta carries the boundary concerns of a state-changing request:
// the acting user, the optional Idempotency-Key with its request hash, and
// the optional If-Match version.
type ActionMeta struct {
	ActorID         string
	IdempotencyKey  string
	RequestHash     string
	ExpectedVersion *int64
}

// Budget action keys.
const (
	actionBudgetSubmit          = "budget.submit"
	actionBudgetApprove         = "budget.approve"
	actionBudgetReject          = "budget.reject"
	actionBudgetRequestRevision = "budget.request_revision"
	actionBudgetReopen          = "budget.reopen"
	actionBudgetLock            = "budget.lock"
	actionBudgetClose           = "budget.close"
)

// BudgetService orchestrates the partner budget lifecycle through the
// workflow engine.
type BudgetService struct {
	engine    *workflow.Engine
	budgets   *repository.BudgetRepository
	approvals *repository.ApprovalRepository
	policies  *PolicyService
	providers *approval.Registry
	recorder  *audit.Recorder
	outbox    *repository.OutboxRepository
	log       *logger.Logger
}

// NewBudgetService creates a new BudgetService.
func NewBudgetService(
	engine *workflow.Engine,
	budgets *repository.BudgetRepository,
	approvals *repository.ApprovalRepository,
	policies *PolicyService,
	providers *approval.Registry,
	recorder *audit.Recorder,
	outbox *repository.OutboxRepository,
	log *logger.Logger,
) *BudgetService {
	return &BudgetService{
		engine:    engine,
		budgets:   budgets,
		approvals: approvals,
		policies:  policies,
		providers: providers,
		recorder:  recorder,
		outbox:    outbox,
		log:       log,
	}
}

// CreateBudgetRequest is a draft budget creation request.
type CreateBudgetRequest struct {
	ProjectID   string         `json:"project_id"`
	PartnerID   string         `json:"partner_id"`
	TenantID    string         `json:"tenant_id"`
	Title       string         `json:"title"`
	Rules       map[string]any `json:"rules"`
	TotalAmount int64          `json:"total_amount"`
	Currency    string         `json:"currency"`
	CreatedBy   string         `json:"created_by"`
}

// CreateDraft creates a budget in DRAFT.
func (s *BudgetService) CreateDraft(ctx context.Context, req *CreateBudgetRequest) (*repository.Budget, error) {
	if req.ProjectID == "" {
		return nil, errors.InvalidInput("project_id", "project is required")
	}
	if req.PartnerID == "" {
		return nil, errors.InvalidInput("partner_id", "partner is required")
	}
	if req.TenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant is required")
	}
	if req.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if req.TotalAmount <= 0 {
		return nil, errors.InvalidInput("total_amount", "total amount must be positive")
	}
	if len(req.Currency) != 3 {
		return nil, errors.InvalidInput("currency", "expected a 3-letter currency code")
	}

	rules := req.Rules
	if rules == nil {
		rules = map[string]any{}
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	b := &repository.Budget{
		ProjectID:   req.ProjectID,
		PartnerID:   req.PartnerID,
		TenantID:    req.TenantID,
		Title:       req.Title,
		Status:      repository.BudgetStatusDraft,
		Rules:       rules,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		CreatedBy:   req.CreatedBy,
	}
	if err := s.budgets.Create(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", b.ID).
		Str("project_id", b.ProjectID).
		Int64("total_amount", b.TotalAmount).
		Msg("budget draft created")

	return b, nil
}

// Get returns a budget by id.
func (s *BudgetService) Get(ctx context.Context, id string) (*repository.Budget, error) {
	return s.budgets.GetByID(ctx, id)
}

// List returns budgets for a tenant.
func (s *BudgetService) List(ctx context.Context, tenantID string, projectID, status *string, limit, offset int) ([]*repository.Budget, error) {
	return s.budgets.List(ctx, tenantID, projectID, status, limit, offset)
}

// UpdateDraft updates the mutable fields of a DRAFT budget.
func (s *BudgetService) UpdateDraft(ctx context.Context, b *repository.Budget) error {
	if b.Title == "" {
		return errors.InvalidInput("title", "title is required")
	}
	if b.TotalAmount <= 0 {
		return errors.InvalidInput("total_amount", "total amount must be positive")
	}
	if err := validateRules(b.Rules); err != nil {
		return err
	}
	return s.budgets.UpdateDraft(ctx, b)
}

// Submit moves a DRAFT budget to SUBMITTED and opens its approval request.
// When the matched policy auto-approves, the budget reaches APPROVED in the
// same transaction.
func (s *BudgetService) Submit(ctx context.Context, budgetID string, meta ActionMeta) (*workflow.Result, error) {
	b, err := s.budgets.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policies.Match(ctx, b.TenantID, repository.EntityTypeBudget, b.ProjectID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.NotFound("approval_policy", repository.EntityTypeBudget+"/"+b.TenantID)
	}
	provider, err := s.providers.ForPolicy(policy)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeBudget,
		EntityID:        budgetID,
		ActorID:         meta.ActorID,
		TenantID:        b.TenantID,
		TargetState:     repository.BudgetStatusSubmitted,
		ActionKey:       actionBudgetSubmit,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "budget.submitted",
			Payload: map[string]any{
				"budget_id": budgetID,
				"title":     b.Title,
				"amount":    b.TotalAmount,
				"actor_id":  meta.ActorID,
			},
		}},
		SideEffects: func(ctx context.Context, tx pgx.Tx, before, after *workflow.Snapshot) error {
			_, err := provider.Submit(ctx, tx, &approval.SubmitInput{
				Policy:      policy,
				EntityType:  repository.EntityTypeBudget,
				EntityID:    budgetID,
				TenantID:    b.TenantID,
				RequestedBy: meta.ActorID,
				Amount:      b.TotalAmount,
				Hooks: approval.Hooks{
					OnApproved: func(ctx context.Context, tx pgx.Tx) error {
						return s.ApplyApproved(ctx, tx, budgetID, "system")
					},
					OnRejected: func(ctx context.Context, tx pgx.Tx) error {
						return s.ApplyRejected(ctx, tx, budgetID, "system")
					},
				},
			})
			return err
		},
	})
}

// RequestRevision sends a SUBMITTED budget back for rework and cancels its
// pending approval.
func (s *BudgetService) RequestRevision(ctx context.Context, budgetID string, meta ActionMeta, comment string) (*workflow.Result, error) {
	b, err := s.budgets.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeBudget,
		EntityID:        budgetID,
		ActorID:         meta.ActorID,
		TenantID:        b.TenantID,
		TargetState:     repository.BudgetStatusRevisionRequested,
		ActionKey:       actionBudgetRequestRevision,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "budget.revision_requested",
			Payload: map[string]any{
				"budget_id": budgetID,
				"title":     b.Title,
				"comment":   comment,
				"actor_id":  meta.ActorID,
			},
		}},
		SideEffects: func(ctx context.Context, tx pgx.Tx, before, after *workflow.Snapshot) error {
			return s.cancelPendingApproval(ctx, tx, budgetID, meta.ActorID)
		},
	})
}

// Reopen returns a REVISION_REQUESTED budget to DRAFT for editing.
func (s *BudgetService) Reopen(ctx context.Context, budgetID string, meta ActionMeta) (*workflow.Result, error) {
	b, err := s.budgets.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeBudget,
		EntityID:        budgetID,
		ActorID:         meta.ActorID,
		TenantID:        b.TenantID,
		TargetState:     repository.BudgetStatusDraft,
		ActionKey:       actionBudgetReopen,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
	})
}

// Close retires a LOCKED budget at the end of its grant period.
func (s *BudgetService) Close(ctx context.Context, budgetID string, meta ActionMeta) (*workflow.Result, error) {
	b, err := s.budgets.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeBudget,
		EntityID:        budgetID,
		ActorID:         meta.ActorID,
		TenantID:        b.TenantID,
		TargetState:     repository.BudgetStatusClosed,
		ActionKey:       actionBudgetClose,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "budget.closed",
			Payload: map[string]any{
				"budget_id": budgetID,
				"title":     b.Title,
				"actor_id":  meta.ActorID,
			},
		}},
	})
}

// ── decision appliers ─────────────────────────────────────────────────────────

// ApplyApproved moves a SUBMITTED budget to APPROVED on the decision's
// transaction, deriving the tranche schedule from the budget rules.
func (s *BudgetService) ApplyApproved(ctx context.Context, tx pgx.Tx, budgetID, actorID string) error {
	before, err := s.budgets.GetForUpdate(ctx, tx, budgetID)
	if err != nil {
		return err
	}
	if before.State != repository.BudgetStatusSubmitted {
		return errors.Conflict(fmt.Sprintf("budget is %s, not SUBMITTED", before.State))
	}

	total, _ := before.Fields["total_amount"].(int64)
	rules, _ := before.Fields["rules"].(map[string]any)
	tranches := deriveTranches(total, rules)

	after, err := s.budgets.ApplyTransition(ctx, tx, budgetID, repository.BudgetStatusApproved, map[string]any{
		"tranches":         tranches,
		"allocated_amount": total,
	}, actorID)
	if err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, tx, actorID, actionBudgetApprove,
		repository.EntityTypeBudget, budgetID, snapshotFields(before), snapshotFields(after)); err != nil {
		return err
	}

	tenantID, _ := before.Fields["tenant_id"].(string)
	return s.outbox.Enqueue(ctx, tx, tenantID, repository.EntityTypeBudget, budgetID,
		"budget.approved", map[string]any{
			"budget_id": budgetID,
			"amount":    total,
			"tranches":  len(tranches),
			"actor_id":  actorID,
		})
}

// ApplyRejected moves a SUBMITTED budget to REJECTED on the decision's
// transaction.
func (s *BudgetService) ApplyRejected(ctx context.Context, tx pgx.Tx, budgetID, actorID string) error {
	before, err := s.budgets.GetForUpdate(ctx, tx, budgetID)
	if err != nil {
		return err
	}
	if before.State != repository.BudgetStatusSubmitted {
		return errors.Conflict(fmt.Sprintf("budget is %s, not SUBMITTED", before.State))
	}

	after, err := s.budgets.ApplyTransition(ctx, tx, budgetID, repository.BudgetStatusRejected, nil, actorID)
	if err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, tx, actorID, actionBudgetReject,
		repository.EntityTypeBudget, budgetID, snapshotFields(before), snapshotFields(after)); err != nil {
		return err
	}

	tenantID, _ := before.Fields["tenant_id"].(string)
	return s.outbox.Enqueue(ctx, tx, tenantID, repository.EntityTypeBudget, budgetID,
		"budget.rejected", map[string]any{
			"budget_id": budgetID,
			"actor_id":  actorID,
		})
}

// Lock moves an APPROVED budget to LOCKED. Called only as a contract
// activation side effect, on the activation transaction.
func (s *BudgetService) Lock(ctx context.Context, tx pgx.Tx, budgetID, actorID string) error {
	before, err := s.budgets.GetForUpdate(ctx, tx, budgetID)
	if err != nil {
		return err
	}
	if before.State != repository.BudgetStatusApproved {
		return errors.Conflict(fmt.Sprintf("budget is %s, not APPROVED", before.State))
	}

	after, err := s.budgets.ApplyTransition(ctx, tx, budgetID, repository.BudgetStatusLocked, nil, actorID)
	if err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, tx, actorID, actionBudgetLock,
		repository.EntityTypeBudget, budgetID, snapshotFields(before), snapshotFields(after)); err != nil {
		return err
	}

	tenantID, _ := before.Fields["tenant_id"].(string)
	return s.outbox.Enqueue(ctx, tx, tenantID, repository.EntityTypeBudget, budgetID,
		"budget.locked", map[string]any{
			"budget_id": budgetID,
			"actor_id":  actorID,
		})
}

// cancelPendingApproval withdraws the budget's open approval, if any.
func (s *BudgetService) cancelPendingApproval(ctx context.Context, tx pgx.Tx, budgetID, actorID string) error {
	pending, err := s.approvals.GetPendingByEntity(ctx, repository.EntityTypeBudget, budgetID)
	if err != nil || pending == nil {
		return err
	}

	policy, err := s.policies.Get(ctx, pending.PolicyID)
	if err != nil {
		return err
	}
	provider, err := s.providers.ForPolicy(policy)
	if err != nil {
		return err
	}

	locked, err := s.approvals.GetForUpdate(ctx, tx, pending.ID)
	if err != nil {
		return err
	}
	if locked.Status != repository.ApprovalStatusPending {
		return nil
	}
	return provider.Cancel(ctx, tx, &approval.DecideInput{Policy: policy, Approval: locked, ActorID: actorID})
}

// maxTrancheCount bounds the derived disbursement schedule. Draft validation
// rejects larger values; deriveTranches clamps as a backstop for rows written
// before the check existed.
const maxTrancheCount = 100

// validateRules checks the client-supplied rules bag on draft writes.
func validateRules(rules map[string]any) error {
	v, ok := rules["tranche_count"]
	if !ok {
		return nil
	}
	n, isNum := v.(float64) // JSON numbers decode as float64
	if !isNum {
		return errors.InvalidInput("rules.tranche_count", "tranche count must be a number")
	}
	if n < 1 || n > maxTrancheCount || n != float64(int(n)) {
		return errors.InvalidInput("rules.tranche_count",
			fmt.Sprintf("tranche count must be a whole number between 1 and %d", maxTrancheCount))
	}
	return nil
}

// deriveTranches splits the budget total into equal disbursements per the
// rules' tranche_count, putting the rounding remainder on the last tranche.
func deriveTranches(total int64, rules map[string]any) []repository.Tranche {
	count := 1
	if v, ok := rules["tranche_count"]; ok {
		switch n := v.(type) {
		case float64:
			if n >= 1 && n <= maxTrancheCount {
				count = int(n)
			} else if n > maxTrancheCount {
				count = maxTrancheCount
			}
		case int:
			if n >= 1 && n <= maxTrancheCount {
				count = n
			} else if n > maxTrancheCount {
				count = maxTrancheCount
			}
		}
	}

	base := total / int64(count)
	tranches := make([]repository.Tranche, count)
	for i := 0; i < count; i++ {
		amount := base
		if i == count-1 {
			amount = total - base*int64(count-1)
		}
		tranches[i] = repository.Tranche{Sequence: i + 1, Amount: amount}
	}
	return tranches
}

// snapshotFields flattens a snapshot for audit recording.
func snapshotFields(s *workflow.Snapshot) map[string]any {
	fields := make(map[string]any, len(s.Fields)+2)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields["status"] = s.State
	fields["version"] = s.Version
	return fields
}
