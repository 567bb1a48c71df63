package notify

import (
	"context"
)

// IdentityDirectory resolves role membership. Multi-tenant routing rules for
// audience selection live in the identity service; this side only maps event
// keys to interested roles.
type IdentityDirectory interface {
	UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error)
}

// eventRoles maps an event key to the roles notified about it.
var eventRoles = map[string][]string{
	"budget.submitted":                {"GRANTS_MANAGER"},
	"budget.revision_requested":       {"PARTNER_ADMIN"},
	"budget.approved":                 {"PARTNER_ADMIN"},
	"budget.rejected":                 {"PARTNER_ADMIN"},
	"budget.locked":                   {"FINANCE_MANAGER"},
	"budget.closed":                   {"FINANCE_MANAGER"},
	"contract.generated":              {"GRANTS_MANAGER"},
	"contract.submitted_for_approval": {"GRANTS_MANAGER"},
	"contract.approved":               {"PARTNER_ADMIN"},
	"contract.rejected":               {"GRANTS_MANAGER"},
	"contract.sent_for_sign":          {"PARTNER_ADMIN"},
	"contract.signed":                 {"GRANTS_MANAGER"},
	"contract.activated":              {"PARTNER_ADMIN", "FINANCE_MANAGER"},
	"contract.cancelled":              {"GRANTS_MANAGER"},
	"approval.decided":                {"PARTNER_ADMIN"},
}

// Audience expands an event into the user IDs that should be notified.
type Audience struct {
	directory IdentityDirectory
}

// NewAudience creates an audience resolver.
func NewAudience(directory IdentityDirectory) *Audience {
	return &Audience{directory: directory}
}

// ResolveUsers returns the deduplicated user IDs for an event in a tenant.
func (a *Audience) ResolveUsers(ctx context.Context, tenantID, eventKey string) ([]string, error) {
	roles := eventRoles[eventKey]

	seen := make(map[string]struct{})
	var users []string
	for _, role := range roles {
		ids, err := a.directory.UsersWithRole(ctx, tenantID, role)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			users = append(users, id)
		}
	}
	return users, nil
}
