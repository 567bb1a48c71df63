// Package approval implements the pluggable approval providers. A policy's
// provider kind selects between the internal multi-step chain and delegation
// to an external system; selection is a variant switch, not inheritance.
package approval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/repository"
)

// Hooks are the entity-specific side effects fired when an approval reaches a
// terminal decision. They run on the same transaction as the decision.
type Hooks struct {
	OnApproved func(ctx context.Context, tx pgx.Tx) error
	OnRejected func(ctx context.Context, tx pgx.Tx) error
}

// SubmitInput describes a new approval request.
type SubmitInput struct {
	Policy      *repository.ApprovalPolicy
	EntityType  string
	EntityID    string
	TenantID    string
	RequestedBy string
	Amount      int64 // cents, evaluated against auto-approval thresholds
	Hooks       Hooks
}

// DecideInput describes a decision on an existing approval. Approval must be
// loaded under a row lock by the caller so concurrent decisions serialize.
type DecideInput struct {
	Policy   *repository.ApprovalPolicy
	Approval *repository.Approval
	ActorID  string
	Comment  *string
	Hooks    Hooks
}

// Provider is the approval capability set. All methods run on the caller's
// transaction; a failed hook or write rolls the whole decision back.
type Provider interface {
	Submit(ctx context.Context, tx pgx.Tx, in *SubmitInput) (*repository.Approval, error)
	Approve(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error)
	Reject(ctx context.Context, tx pgx.Tx, in *DecideInput) (*repository.Approval, error)
	Cancel(ctx context.Context, tx pgx.Tx, in *DecideInput) error
}

// Store is the approval persistence the providers drive. Satisfied by
// repository.ApprovalRepository.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, a *repository.Approval) error
	AdvanceStep(ctx context.Context, tx pgx.Tx, id string, nextStep int, nextRole string) error
	Finalize(ctx context.Context, tx pgx.Tx, id, status, decidedBy string, comment *string) error
}

// ExternalApprover is the outward-facing contract of an external approval
// system. Decision callbacks from the external system are out of scope; only
// submit and cancel are delegated.
type ExternalApprover interface {
	Submit(ctx context.Context, entityType, entityID string, amount int64) (ref string, err error)
	Cancel(ctx context.Context, ref string) error
}

// Registry selects a provider by policy provider kind.
type Registry struct {
	internal *InternalProvider
	external *ExternalProvider
}

// NewRegistry creates a registry over both provider variants.
func NewRegistry(internal *InternalProvider, external *ExternalProvider) *Registry {
	return &Registry{internal: internal, external: external}
}

// ForPolicy returns the provider implementing the policy's kind.
func (r *Registry) ForPolicy(policy *repository.ApprovalPolicy) (Provider, error) {
	switch policy.Provider {
	case repository.ProviderInternal:
		return r.internal, nil
	case repository.ProviderExternal:
		return r.external, nil
	default:
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unknown approval provider %q", policy.Provider))
	}
}
