package service

import (
	"context"

	"github.com/grantline-io/be-grants/internal/cache"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// PolicyService administers approval policies. Reads go through a versioned
// cache invalidated wholesale on any write; policies change rarely and are
// read on every submission.
type PolicyService struct {
	policies *repository.ApprovalPolicyRepository
	cache    *cache.Versioned[*repository.ApprovalPolicy]
	log      *logger.Logger
}

// NewPolicyService creates a new PolicyService.
func NewPolicyService(policies *repository.ApprovalPolicyRepository, log *logger.Logger) *PolicyService {
	return &PolicyService{
		policies: policies,
		cache:    cache.NewVersioned[*repository.ApprovalPolicy](),
		log:      log,
	}
}

const policyCacheType = "approval_policy"

// Create registers a new approval policy.
func (s *PolicyService) Create(ctx context.Context, p *repository.ApprovalPolicy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}

	if err := s.policies.Create(ctx, p); err != nil {
		return err
	}
	s.cache.Bump(policyCacheType)

	s.log.Info().
		Str("policy_id", p.ID).
		Str("entity_type", p.EntityType).
		Str("provider", p.Provider).
		Int("priority", p.Priority).
		Msg("approval policy created")

	return nil
}

// Get returns a policy by id, serving repeated reads from the cache.
func (s *PolicyService) Get(ctx context.Context, id string) (*repository.ApprovalPolicy, error) {
	if p, ok := s.cache.Get(policyCacheType, id); ok {
		return p, nil
	}

	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(policyCacheType, id, p)
	return p, nil
}

// List returns policies for a tenant and entity type in priority order.
func (s *PolicyService) List(ctx context.Context, tenantID, entityType string, activeOnly bool) ([]*repository.ApprovalPolicy, error) {
	return s.policies.List(ctx, tenantID, entityType, activeOnly)
}

// Match picks the policy governing an approval submission: the
// highest-priority active policy for (tenant, entity type, scope), falling
// back to the tenant's unscoped default. Nil when none applies.
func (s *PolicyService) Match(ctx context.Context, tenantID, entityType, scope string) (*repository.ApprovalPolicy, error) {
	key := tenantID + "/" + entityType + "/" + scope
	if p, ok := s.cache.Get(policyCacheType, key); ok {
		return p, nil
	}

	p, err := s.policies.FindMatching(ctx, tenantID, entityType, scope)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.cache.Set(policyCacheType, key, p)
	}
	return p, nil
}

// Update modifies an existing policy and invalidates the cache.
func (s *PolicyService) Update(ctx context.Context, p *repository.ApprovalPolicy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}

	if err := s.policies.Update(ctx, p); err != nil {
		return err
	}
	s.cache.Bump(policyCacheType)
	return nil
}

// Deactivate soft-disables a policy so new submissions stop matching it.
// Approvals already opened under it keep their policy reference.
func (s *PolicyService) Deactivate(ctx context.Context, id string) error {
	if err := s.policies.Deactivate(ctx, id); err != nil {
		return err
	}
	s.cache.Bump(policyCacheType)

	s.log.Info().Str("policy_id", id).Msg("approval policy deactivated")
	return nil
}

func validatePolicy(p *repository.ApprovalPolicy) error {
	switch p.EntityType {
	case repository.EntityTypeBudget, repository.EntityTypeContract:
	default:
		return errors.InvalidInput("entity_type", "must be budget or contract")
	}

	switch p.Provider {
	case repository.ProviderInternal:
		for _, step := range p.Config.Steps {
			if step.Role == "" {
				return errors.InvalidInput("config.steps", "every step needs a role")
			}
		}
		if p.Config.AutoApproveLimit != nil && *p.Config.AutoApproveLimit < 0 {
			return errors.InvalidInput("config.auto_approve_limit", "limit cannot be negative")
		}
	case repository.ProviderExternal:
		if p.Config.ExternalSystem == "" {
			return errors.InvalidInput("config.external_system", "external policies must name the external system")
		}
	default:
		return errors.InvalidInput("provider", "must be internal or external")
	}

	if p.Priority < 0 {
		return errors.InvalidInput("priority", "priority cannot be negative")
	}
	return nil
}
