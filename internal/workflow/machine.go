package workflow

import (
	"fmt"

	"github.com/grantline-io/be-grants/internal/errors"
)

// Machine is the static adjacency table for one entity type. Transitions are
// monotonic along the table; revision edges (e.g. REVISION_REQUESTED → DRAFT)
// are ordinary entries whitelisted here and nowhere else.
type Machine struct {
	entityType string
	adjacency  map[string][]string
}

// NewMachine builds a machine from an adjacency table.
func NewMachine(entityType string, adjacency map[string][]string) *Machine {
	return &Machine{entityType: entityType, adjacency: adjacency}
}

// EntityType returns the entity type this machine governs.
func (m *Machine) EntityType() string { return m.entityType }

// CanTransition reports whether target is directly reachable from current.
func (m *Machine) CanTransition(current, target string) bool {
	for _, next := range m.adjacency[current] {
		if next == target {
			return true
		}
	}
	return false
}

// CheckTransition returns a conflict error when target is not reachable from
// current in one step.
func (m *Machine) CheckTransition(current, target string) error {
	if !m.CanTransition(current, target) {
		return errors.Conflict(fmt.Sprintf(
			"%s cannot transition from %s to %s", m.entityType, current, target))
	}
	return nil
}
