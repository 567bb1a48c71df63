package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
)

// OutboxRepository persists outbox entries. Enqueue runs on the workflow
// transaction; the claim/mark methods are used by the fan-out worker.
type OutboxRepository struct {
	db *database.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *database.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a PENDING outbox entry on the caller's transaction, so the
// event record commits or rolls back with the state change that caused it.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, tenantID, entityType, entityID, eventKey string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal outbox payload")
	}

	query := `
		INSERT INTO notif_outbox (tenant_id, entity_type, entity_id, event_key, payload, status)
		VALUES ($1, $2, $3, $4, $5, 'PENDING'::outbox_status)
	`

	if _, err := tx.Exec(ctx, query, tenantID, entityType, entityID, eventKey, payloadJSON); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to enqueue outbox entry")
	}
	return nil
}

// ClaimPending locks up to limit PENDING entries for the fan-out worker.
// SKIP LOCKED lets concurrent workers drain the backlog without contention.
func (r *OutboxRepository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEntry, error) {
	query := `
		SELECT id, tenant_id, entity_type, entity_id, event_key, payload,
		       status, attempts, last_error, created_at
		FROM notif_outbox
		WHERE status = 'PENDING'::outbox_status
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to claim outbox entries")
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		var payloadJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.EventKey,
			&payloadJSON,
			&entry.Status,
			&entry.Attempts,
			&entry.LastError,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan outbox entry")
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal outbox payload")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MarkDone marks a fanned-out entry as done.
func (r *OutboxRepository) MarkDone(ctx context.Context, tx pgx.Tx, id string) error {
	query := `
		UPDATE notif_outbox
		SET status = 'DONE'::outbox_status, attempts = attempts + 1
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark outbox entry done")
	}
	return nil
}

// MarkFailed records a fan-out failure with its error string. Failed entries
// stay in the table for inspection and manual retry.
func (r *OutboxRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	query := `
		UPDATE notif_outbox
		SET status = 'FAILED'::outbox_status, attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id, reason)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark outbox entry failed")
	}
	return nil
}

// CountByStatus returns outbox entry counts, used by the health endpoint.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM notif_outbox GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count outbox entries")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan outbox count")
		}
		counts[status] = count
	}
	return counts, nil
}
