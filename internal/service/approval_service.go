package service

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/approval"
	"github.com/grantline-io/be-grants/internal/audit"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// Approval action keys.
const (
	actionApprovalApprove = "approval.approve"
	actionApprovalReject  = "approval.reject"
)

// DecisionApplier maps a terminal approval outcome onto the governed entity,
// on the decision's transaction.
type DecisionApplier interface {
	ApplyApproved(ctx context.Context, tx pgx.Tx, entityID, actorID string) error
	ApplyRejected(ctx context.Context, tx pgx.Tx, entityID, actorID string) error
}

// ApprovalService decides pending approvals. A decision is one transaction:
// idempotency reservation, approval row lock, provider step logic, the
// entity-side apply hook, audit append and outbox enqueue all commit together.
type ApprovalService struct {
	db        workflow.TxRunner
	ledger    workflow.Ledger
	approvals *repository.ApprovalRepository
	policies  *PolicyService
	providers *approval.Registry
	recorder  *audit.Recorder
	outbox    *repository.OutboxRepository
	appliers  map[string]DecisionApplier
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	db workflow.TxRunner,
	ledger workflow.Ledger,
	approvals *repository.ApprovalRepository,
	policies *PolicyService,
	providers *approval.Registry,
	recorder *audit.Recorder,
	outbox *repository.OutboxRepository,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:        db,
		ledger:    ledger,
		approvals: approvals,
		policies:  policies,
		providers: providers,
		recorder:  recorder,
		outbox:    outbox,
		appliers:  make(map[string]DecisionApplier),
		log:       log,
	}
}

// RegisterApplier binds an entity type to its decision applier. Called once
// at wiring time.
func (s *ApprovalService) RegisterApplier(entityType string, applier DecisionApplier) {
	s.appliers[entityType] = applier
}

// Get returns an approval by id.
func (s *ApprovalService) Get(ctx context.Context, id string) (*repository.Approval, error) {
	return s.approvals.GetByID(ctx, id)
}

// GetPendingByEntity returns the open approval for an entity, or nil.
func (s *ApprovalService) GetPendingByEntity(ctx context.Context, entityType, entityID string) (*repository.Approval, error) {
	return s.approvals.GetPendingByEntity(ctx, entityType, entityID)
}

// ListPendingForRole returns the pending queue for a reviewer role.
func (s *ApprovalService) ListPendingForRole(ctx context.Context, tenantID, role string) ([]*repository.Approval, error) {
	return s.approvals.ListPendingForRole(ctx, tenantID, role)
}

// DecisionResult is the outcome of a decision request.
type DecisionResult struct {
	Approval *repository.Approval
	Response []byte
	Replayed bool
}

// Decide applies an approve or reject decision to a pending approval.
func (s *ApprovalService) Decide(ctx context.Context, approvalID string, approve bool, comment *string, meta ActionMeta) (*DecisionResult, error) {
	a, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	applier, ok := s.appliers[a.EntityType]
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal, "no decision applier for entity type "+a.EntityType)
	}

	policy, err := s.policies.Get(ctx, a.PolicyID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.ForPolicy(policy)
	if err != nil {
		return nil, err
	}

	actionKey := actionApprovalApprove
	if !approve {
		actionKey = actionApprovalReject
	}

	result := &DecisionResult{}

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if meta.IdempotencyKey != "" {
			res, err := s.ledger.Reserve(ctx, tx, meta.IdempotencyKey, actionKey, meta.ActorID, meta.RequestHash)
			if err != nil {
				return err
			}
			if !res.Won {
				if res.Completed {
					result.Response = res.Response
					result.Replayed = true
					return nil
				}
				return errors.Conflict("a request with this idempotency key is still in flight")
			}
		}

		locked, err := s.approvals.GetForUpdate(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		if locked.Status != repository.ApprovalStatusPending {
			return errors.Conflict("approval has already been decided")
		}

		in := &approval.DecideInput{
			Policy:   policy,
			Approval: locked,
			ActorID:  meta.ActorID,
			Comment:  comment,
			Hooks: approval.Hooks{
				OnApproved: func(ctx context.Context, tx pgx.Tx) error {
					return applier.ApplyApproved(ctx, tx, locked.EntityID, meta.ActorID)
				},
				OnRejected: func(ctx context.Context, tx pgx.Tx) error {
					return applier.ApplyRejected(ctx, tx, locked.EntityID, meta.ActorID)
				},
			},
		}

		var decided *repository.Approval
		if approve {
			decided, err = provider.Approve(ctx, tx, in)
		} else {
			decided, err = provider.Reject(ctx, tx, in)
		}
		if err != nil {
			return err
		}

		if err := s.recorder.Record(ctx, tx, meta.ActorID, actionKey,
			locked.EntityType, locked.EntityID,
			approvalFields(locked), approvalFields(decided)); err != nil {
			return err
		}

		if err := s.outbox.Enqueue(ctx, tx, locked.TenantID, locked.EntityType, locked.EntityID,
			"approval.decided", map[string]any{
				"approval_id": decided.ID,
				"status":      decided.Status,
				"step":        decided.Step,
				"actor_id":    meta.ActorID,
			}); err != nil {
			return err
		}

		response, err := json.Marshal(decided)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to serialize decision response")
		}

		if meta.IdempotencyKey != "" {
			if err := s.ledger.MarkCompleted(ctx, tx, meta.IdempotencyKey, response); err != nil {
				return err
			}
		}

		result.Approval = decided
		result.Response = response
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		s.log.Debug().
			Str("approval_id", approvalID).
			Str("action", actionKey).
			Msg("idempotent replay served from ledger")
		return result, nil
	}

	s.log.Info().
		Str("approval_id", approvalID).
		Str("entity_type", a.EntityType).
		Str("entity_id", a.EntityID).
		Str("action", actionKey).
		Str("status", result.Approval.Status).
		Str("actor_id", meta.ActorID).
		Msg("approval decision committed")

	return result, nil
}

// approvalFields projects an approval into the auditable field map.
func approvalFields(a *repository.Approval) map[string]any {
	fields := map[string]any{
		"approval_id":   a.ID,
		"policy_id":     a.PolicyID,
		"status":        a.Status,
		"step":          a.Step,
		"total_steps":   a.TotalSteps,
		"assignee_role": nil,
	}
	if a.AssigneeRole != nil {
		fields["assignee_role"] = *a.AssigneeRole
	}
	if a.DecidedBy != nil {
		fields["decided_by"] = *a.DecidedBy
	}
	return fields
}
