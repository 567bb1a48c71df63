// Package audit computes before/after field diffs and appends them to the
// immutable audit log. The recorder runs inside the workflow transaction:
// a failed audit write rolls the whole transition back.
package audit

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/repository"
)

// Diff computes a shallow field-level diff between two snapshots. Keys present
// in only one snapshot appear with a nil counterpart.
func Diff(before, after map[string]any) map[string]repository.FieldChange {
	diff := make(map[string]repository.FieldChange)

	for key, oldVal := range before {
		newVal, ok := after[key]
		if !ok {
			diff[key] = repository.FieldChange{From: oldVal, To: nil}
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			diff[key] = repository.FieldChange{From: oldVal, To: newVal}
		}
	}
	for key, newVal := range after {
		if _, ok := before[key]; !ok {
			diff[key] = repository.FieldChange{From: nil, To: newVal}
		}
	}
	return diff
}

// Recorder appends audit entries.
type Recorder struct{}

// NewRecorder creates a recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record diffs before/after and appends one immutable row on the caller's
// transaction. An empty diff is still recorded so the action itself is
// traceable.
func (r *Recorder) Record(ctx context.Context, tx pgx.Tx, actorID, actionKey, entityType, entityID string, before, after map[string]any) error {
	diff := Diff(before, after)

	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit diff")
	}

	query := `
		INSERT INTO audit_log (actor_id, action_key, entity_type, entity_id, diff)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := tx.Exec(ctx, query, actorID, actionKey, entityType, entityID, diffJSON); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}
