package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
)

// AuditRepository reads the append-only audit log. Writes happen through the
// audit recorder inside workflow transactions; the table carries a
// delete-prevention trigger so no mutation methods exist here.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// GetByEntity returns the audit trail for an entity ordered oldest-first.
func (r *AuditRepository) GetByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, actor_id, action_key, entity_type, entity_id, diff, recorded_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetByActor returns recent actions performed by an actor, newest-first.
func (r *AuditRepository) GetByActor(ctx context.Context, actorID string, limit int) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, actor_id, action_key, entity_type, entity_id, diff, recorded_at
		FROM audit_log
		WHERE actor_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, actorID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get actor audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	for rows.Next() {
		entry := &AuditLogEntry{}
		var diffJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.ActionKey,
			&entry.EntityType,
			&entry.EntityID,
			&diffJSON,
			&entry.RecordedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(diffJSON) > 0 {
			if err := json.Unmarshal(diffJSON, &entry.Diff); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit diff")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
