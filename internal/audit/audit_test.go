package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/repository"
)

func TestDiff_ChangedFields(t *testing.T) {
	before := map[string]any{
		"status":  "DRAFT",
		"version": int64(3),
		"title":   "Q1 budget",
	}
	after := map[string]any{
		"status":  "SUBMITTED",
		"version": int64(4),
		"title":   "Q1 budget",
	}

	diff := Diff(before, after)

	require.Len(t, diff, 2)
	assert.Equal(t, repository.FieldChange{From: "DRAFT", To: "SUBMITTED"}, diff["status"])
	assert.Equal(t, repository.FieldChange{From: int64(3), To: int64(4)}, diff["version"])
	assert.NotContains(t, diff, "title")
}

func TestDiff_AddedAndRemovedKeys(t *testing.T) {
	before := map[string]any{"a": 1, "gone": "x"}
	after := map[string]any{"a": 1, "new": "y"}

	diff := Diff(before, after)

	require.Len(t, diff, 2)
	assert.Equal(t, repository.FieldChange{From: "x", To: nil}, diff["gone"])
	assert.Equal(t, repository.FieldChange{From: nil, To: "y"}, diff["new"])
}

func TestDiff_NestedValues(t *testing.T) {
	before := map[string]any{"rules": map[string]any{"tranche_count": float64(2)}}
	after := map[string]any{"rules": map[string]any{"tranche_count": float64(4)}}

	diff := Diff(before, after)

	require.Len(t, diff, 1)
	assert.Equal(t, map[string]any{"tranche_count": float64(2)}, diff["rules"].From)
	assert.Equal(t, map[string]any{"tranche_count": float64(4)}, diff["rules"].To)
}

func TestDiff_Identical(t *testing.T) {
	fields := map[string]any{"status": "DRAFT", "tranches": []int{1, 2}}
	assert.Empty(t, Diff(fields, fields))
}
