package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/errors"
)

func testMachine() *Machine {
	return NewMachine("doc", map[string][]string{
		"DRAFT":     {"SUBMITTED"},
		"SUBMITTED": {"APPROVED", "REJECTED", "REVISION_REQUESTED"},
		// Whitelisted revision edge.
		"REVISION_REQUESTED": {"DRAFT"},
		"APPROVED":           {"LOCKED"},
	})
}

func TestMachine_CanTransition(t *testing.T) {
	m := testMachine()

	assert.True(t, m.CanTransition("DRAFT", "SUBMITTED"))
	assert.True(t, m.CanTransition("SUBMITTED", "REJECTED"))
	assert.True(t, m.CanTransition("REVISION_REQUESTED", "DRAFT"))

	// No skipping intermediate states.
	assert.False(t, m.CanTransition("DRAFT", "APPROVED"))
	// No moving backwards outside whitelisted edges.
	assert.False(t, m.CanTransition("APPROVED", "SUBMITTED"))
	// Terminal states have no outgoing edges.
	assert.False(t, m.CanTransition("REJECTED", "DRAFT"))
	// Unknown states are dead ends.
	assert.False(t, m.CanTransition("NO_SUCH_STATE", "DRAFT"))
}

func TestMachine_CheckTransition(t *testing.T) {
	m := testMachine()

	require.NoError(t, m.CheckTransition("DRAFT", "SUBMITTED"))

	err := m.CheckTransition("DRAFT", "LOCKED")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "doc cannot transition from DRAFT to LOCKED")
}

func TestMachine_EntityType(t *testing.T) {
	assert.Equal(t, "doc", testMachine().EntityType())
}
