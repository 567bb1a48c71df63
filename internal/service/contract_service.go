package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/approval"
	"github.com/grantline-io/be-grants/internal/audit"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// Contract action keys.
const (
	actionContractGenerate       = "contract.generate"
	actionContractSubmitApproval = "contract.submit_approval"
	actionContractApprove        = "contract.approve"
	actionContractReject         = "contract.reject"
	actionContractSendForSign    = "contract.send_for_sign"
	actionContractSign           = "contract.sign"
	actionContractActivate       = "contract.activate"
	actionContractCancel         = "contract.cancel"
)

// BudgetLocker locks the source budget on the activation transaction.
type BudgetLocker interface {
	Lock(ctx context.Context, tx pgx.Tx, budgetID, actorID string) error
}

// ContractService orchestrates the contract lifecycle through the workflow
// engine.
type ContractService struct {
	engine    *workflow.Engine
	contracts *repository.ContractRepository
	budgets   *repository.BudgetRepository
	approvals *repository.ApprovalRepository
	policies  *PolicyService
	providers *approval.Registry
	locker    BudgetLocker
	recorder  *audit.Recorder
	outbox    *repository.OutboxRepository
	log       *logger.Logger
}

// NewContractService creates a new ContractService.
func NewContractService(
	engine *workflow.Engine,
	contracts *repository.ContractRepository,
	budgets *repository.BudgetRepository,
	approvals *repository.ApprovalRepository,
	policies *PolicyService,
	providers *approval.Registry,
	locker BudgetLocker,
	recorder *audit.Recorder,
	outbox *repository.OutboxRepository,
	log *logger.Logger,
) *ContractService {
	return &ContractService{
		engine:    engine,
		contracts: contracts,
		budgets:   budgets,
		approvals: approvals,
		policies:  policies,
		providers: providers,
		locker:    locker,
		recorder:  recorder,
		outbox:    outbox,
		log:       log,
	}
}

// CreateContractRequest provisions a draft contract from an approved budget.
type CreateContractRequest struct {
	BudgetID  string `json:"budget_id"`
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
}

// Create provisions a DRAFT contract from an APPROVED budget, inheriting the
// budget's project, partner and amount.
func (s *ContractService) Create(ctx context.Context, req *CreateContractRequest) (*repository.Contract, error) {
	if req.BudgetID == "" {
		return nil, errors.InvalidInput("budget_id", "budget is required")
	}
	if req.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}

	b, err := s.budgets.GetByID(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	if b.Status != repository.BudgetStatusApproved {
		return nil, errors.Conflict("contracts can only be provisioned from an APPROVED budget")
	}

	c := &repository.Contract{
		BudgetID:  b.ID,
		ProjectID: b.ProjectID,
		PartnerID: b.PartnerID,
		TenantID:  b.TenantID,
		Title:     req.Title,
		Status:    repository.ContractStatusDraft,
		Amount:    b.TotalAmount,
		Currency:  b.Currency,
		CreatedBy: req.CreatedBy,
	}
	if err := s.contracts.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("budget_id", c.BudgetID).
		Int64("amount", c.Amount).
		Msg("contract draft created")

	return c, nil
}

// Get returns a contract by id.
func (s *ContractService) Get(ctx context.Context, id string) (*repository.Contract, error) {
	return s.contracts.GetByID(ctx, id)
}

// List returns contracts for a tenant.
func (s *ContractService) List(ctx context.Context, tenantID string, budgetID, status *string, limit, offset int) ([]*repository.Contract, error) {
	return s.contracts.List(ctx, tenantID, budgetID, status, limit, offset)
}

// Generate attaches the rendered document and moves DRAFT to GENERATED.
func (s *ContractService) Generate(ctx context.Context, contractID, documentKey string, meta ActionMeta) (*workflow.Result, error) {
	if documentKey == "" {
		return nil, errors.InvalidInput("document_key", "document key is required")
	}

	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusGenerated,
		ActionKey:       actionContractGenerate,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Mutations:       map[string]any{"document_key": documentKey},
		Events: []workflow.Event{{
			EventKey: "contract.generated",
			Payload: map[string]any{
				"contract_id":  contractID,
				"document_key": documentKey,
				"actor_id":     meta.ActorID,
			},
		}},
	})
}

// SubmitApproval moves a GENERATED contract to SUBMITTED_FOR_APPROVAL and
// opens its approval request. Auto-approval reaches APPROVED in the same
// transaction.
func (s *ContractService) SubmitApproval(ctx context.Context, contractID string, meta ActionMeta) (*workflow.Result, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policies.Match(ctx, c.TenantID, repository.EntityTypeContract, c.ProjectID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.NotFound("approval_policy", repository.EntityTypeContract+"/"+c.TenantID)
	}
	provider, err := s.providers.ForPolicy(policy)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusSubmittedForApproval,
		ActionKey:       actionContractSubmitApproval,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Guard:           workflow.RequireField("document_key", "contract document must be generated before approval"),
		Events: []workflow.Event{{
			EventKey: "contract.submitted_for_approval",
			Payload: map[string]any{
				"contract_id": contractID,
				"title":       c.Title,
				"amount":      c.Amount,
				"actor_id":    meta.ActorID,
			},
		}},
		SideEffects: func(ctx context.Context, tx pgx.Tx, before, after *workflow.Snapshot) error {
			a, err := provider.Submit(ctx, tx, &approval.SubmitInput{
				Policy:      policy,
				EntityType:  repository.EntityTypeContract,
				EntityID:    contractID,
				TenantID:    c.TenantID,
				RequestedBy: meta.ActorID,
				Amount:      c.Amount,
				Hooks: approval.Hooks{
					OnApproved: func(ctx context.Context, tx pgx.Tx) error {
						return s.ApplyApproved(ctx, tx, contractID, "system")
					},
					OnRejected: func(ctx context.Context, tx pgx.Tx) error {
						return s.ApplyRejected(ctx, tx, contractID, "system")
					},
				},
			})
			if err != nil {
				return err
			}
			return s.contracts.SetApprovalRef(ctx, tx, contractID, policy.Provider, a.ID)
		},
	})
}

// SendForSign dispatches an APPROVED contract to the signing flow.
func (s *ContractService) SendForSign(ctx context.Context, contractID string, meta ActionMeta) (*workflow.Result, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusSentForSign,
		ActionKey:       actionContractSendForSign,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "contract.sent_for_sign",
			Payload: map[string]any{
				"contract_id": contractID,
				"title":       c.Title,
				"actor_id":    meta.ActorID,
			},
		}},
	})
}

// Sign records the counterparty signature.
func (s *ContractService) Sign(ctx context.Context, contractID string, meta ActionMeta) (*workflow.Result, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusSigned,
		ActionKey:       actionContractSign,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "contract.signed",
			Payload: map[string]any{
				"contract_id": contractID,
				"title":       c.Title,
				"actor_id":    meta.ActorID,
			},
		}},
	})
}

// Activate moves a SIGNED contract to ACTIVE and locks the source budget in
// the same transaction.
func (s *ContractService) Activate(ctx context.Context, contractID string, meta ActionMeta) (*workflow.Result, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusActive,
		ActionKey:       actionContractActivate,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "contract.activated",
			Payload: map[string]any{
				"contract_id": contractID,
				"budget_id":   c.BudgetID,
				"title":       c.Title,
				"actor_id":    meta.ActorID,
			},
		}},
		SideEffects: func(ctx context.Context, tx pgx.Tx, before, after *workflow.Snapshot) error {
			return s.locker.Lock(ctx, tx, c.BudgetID, meta.ActorID)
		},
	})
}

// Cancel aborts a pre-SIGNED contract and withdraws any open approval.
func (s *ContractService) Cancel(ctx context.Context, contractID string, meta ActionMeta, reason string) (*workflow.Result, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return s.engine.Execute(ctx, &workflow.Request{
		EntityType:      repository.EntityTypeContract,
		EntityID:        contractID,
		ActorID:         meta.ActorID,
		TenantID:        c.TenantID,
		TargetState:     repository.ContractStatusCancelled,
		ActionKey:       actionContractCancel,
		IdempotencyKey:  meta.IdempotencyKey,
		RequestHash:     meta.RequestHash,
		ExpectedVersion: meta.ExpectedVersion,
		Events: []workflow.Event{{
			EventKey: "contract.cancelled",
			Payload: map[string]any{
				"contract_id": contractID,
				"title":       c.Title,
				"reason":      reason,
				"actor_id":    meta.ActorID,
			},
		}},
		SideEffects: func(ctx context.Context, tx pgx.Tx, before, after *workflow.Snapshot) error {
			return s.cancelPendingApproval(ctx, tx, contractID, meta.ActorID)
		},
	})
}

// ── decision appliers ─────────────────────────────────────────────────────────

// ApplyApproved moves a SUBMITTED_FOR_APPROVAL contract to APPROVED on the
// decision's transaction.
func (s *ContractService) ApplyApproved(ctx context.Context, tx pgx.Tx, contractID, actorID string) error {
	return s.applyDecision(ctx, tx, contractID, actorID,
		repository.ContractStatusApproved, actionContractApprove, "contract.approved")
}

// ApplyRejected returns a SUBMITTED_FOR_APPROVAL contract to GENERATED for
// rework.
func (s *ContractService) ApplyRejected(ctx context.Context, tx pgx.Tx, contractID, actorID string) error {
	return s.applyDecision(ctx, tx, contractID, actorID,
		repository.ContractStatusGenerated, actionContractReject, "contract.rejected")
}

func (s *ContractService) applyDecision(ctx context.Context, tx pgx.Tx, contractID, actorID, target, actionKey, eventKey string) error {
	before, err := s.contracts.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return err
	}
	if before.State != repository.ContractStatusSubmittedForApproval {
		return errors.Conflict("contract is not awaiting approval")
	}

	after, err := s.contracts.ApplyTransition(ctx, tx, contractID, target, nil, actorID)
	if err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, tx, actorID, actionKey,
		repository.EntityTypeContract, contractID, snapshotFields(before), snapshotFields(after)); err != nil {
		return err
	}

	tenantID, _ := before.Fields["tenant_id"].(string)
	return s.outbox.Enqueue(ctx, tx, tenantID, repository.EntityTypeContract, contractID,
		eventKey, map[string]any{
			"contract_id": contractID,
			"actor_id":    actorID,
		})
}

// cancelPendingApproval withdraws the contract's open approval, if any.
func (s *ContractService) cancelPendingApproval(ctx context.Context, tx pgx.Tx, contractID, actorID string) error {
	pending, err := s.approvals.GetPendingByEntity(ctx, repository.EntityTypeContract, contractID)
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
