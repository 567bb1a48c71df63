package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/workflow"
)

func TestDeriveTranches_EqualSplit(t *testing.T) {
	tranches := deriveTranches(400_000, map[string]any{"tranche_count": float64(4)})

	require.Len(t, tranches, 4)
	var sum int64
	for i, tr := range tranches {
		assert.Equal(t, i+1, tr.Sequence)
		assert.Equal(t, int64(100_000), tr.Amount)
		sum += tr.Amount
	}
	assert.Equal(t, int64(400_000), sum)
}

func TestDeriveTranches_RemainderOnLast(t *testing.T) {
	tranches := deriveTranches(100, map[string]any{"tranche_count": float64(3)})

	require.Len(t, tranches, 3)
	assert.Equal(t, int64(33), tranches[0].Amount)
	assert.Equal(t, int64(33), tranches[1].Amount)
	assert.Equal(t, int64(34), tranches[2].Amount)
}

func TestDeriveTranches_DefaultsToSingleTranche(t *testing.T) {
	for _, rules := range []map[string]any{
		nil,
		{},
		{"tranche_count": float64(0)},
		{"tranche_count": "three"},
	} {
		tranches := deriveTranches(500, rules)
		require.Len(t, tranches, 1, "rules %v", rules)
		assert.Equal(t, int64(500), tranches[0].Amount)
	}
}

func TestDeriveTranches_ClampsOversizedCount(t *testing.T) {
	// A count past the float64->int range must not panic the decision
	// transaction; it is clamped to the schedule bound.
	tranches := deriveTranches(100, map[string]any{"tranche_count": float64(1e19)})
	require.Len(t, tranches, maxTrancheCount)

	var sum int64
	for _, tr := range tranches {
		sum += tr.Amount
	}
	assert.Equal(t, int64(100), sum)

	tranches = deriveTranches(100, map[string]any{"tranche_count": int(maxTrancheCount + 1)})
	require.Len(t, tranches, maxTrancheCount)
}

func TestValidateRules_TrancheCount(t *testing.T) {
	require.NoError(t, validateRules(map[string]any{}))
	require.NoError(t, validateRules(map[string]any{"tranche_count": float64(4)}))
	require.NoError(t, validateRules(map[string]any{"tranche_count": float64(maxTrancheCount)}))

	for _, bad := range []any{
		float64(0),
		float64(-1),
		float64(maxTrancheCount + 1),
		float64(1e19),
		2.5,
		"three",
	} {
		err := validateRules(map[string]any{"tranche_count": bad})
		require.Error(t, err, "tranche_count %v", bad)
		assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
	}
}

func TestSnapshotFields_MergesStateAndVersion(t *testing.T) {
	fields := snapshotFields(&workflow.Snapshot{
		State:   "SUBMITTED",
		Version: 7,
		Fields:  map[string]any{"title": "Q1"},
	})

	assert.Equal(t, "SUBMITTED", fields["status"])
	assert.Equal(t, int64(7), fields["version"])
	assert.Equal(t, "Q1", fields["title"])
}
