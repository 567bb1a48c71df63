package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/errors"
)

// NotificationRepository persists delivery jobs, templates and the in-app
// inbox for the notification pipeline.
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const jobColumns = `
	id, outbox_id, tenant_id, user_id, channel, event_key, payload,
	state, attempts, last_error, created_at, updated_at
`

// CreateJob inserts a QUEUED delivery job on the fan-out transaction.
func (r *NotificationRepository) CreateJob(ctx context.Context, tx pgx.Tx, job *NotificationJob) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal job payload")
	}

	query := `
		INSERT INTO notif_jobs
		    (outbox_id, tenant_id, user_id, channel, event_key, payload, state)
		VALUES ($1, $2, $3, $4::notif_channel, $5, $6, 'QUEUED'::notif_job_state)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		job.OutboxID,
		job.TenantID,
		job.UserID,
		job.Channel,
		job.EventKey,
		payloadJSON,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create notification job")
	}
	return nil
}

// ClaimQueued moves up to limit QUEUED jobs to SENDING and returns them.
// The state flip and the claim are one statement so a crashed worker never
// leaves a job claimed-but-QUEUED.
func (r *NotificationRepository) ClaimQueued(ctx context.Context, limit int) ([]*NotificationJob, error) {
	query := `
		UPDATE notif_jobs
		SET state = 'SENDING'::notif_job_state, attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notif_jobs
			WHERE state = 'QUEUED'::notif_job_state
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to claim notification jobs")
	}
	defer rows.Close()

	var jobs []*NotificationJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkSent finishes a job successfully.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE notif_jobs
		SET state = 'SENT'::notif_job_state, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'SENDING'::notif_job_state
	`
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark job sent")
	}
	return nil
}

// MarkJobFailed records a delivery failure. The error string is kept for
// retry tooling; the originating workflow transition is never affected.
func (r *NotificationRepository) MarkJobFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE notif_jobs
		SET state = 'FAILED'::notif_job_state, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'SENDING'::notif_job_state
	`
	_, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark job failed")
	}
	return nil
}

// ListJobsByOutbox returns every job derived from one outbox entry.
func (r *NotificationRepository) ListJobsByOutbox(ctx context.Context, outboxID string) ([]*NotificationJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM notif_jobs
		WHERE outbox_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, outboxID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list notification jobs")
	}
	defer rows.Close()

	var jobs []*NotificationJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ── templates ─────────────────────────────────────────────────────────────────

// GetTemplate resolves the template for (event, channel, locale), preferring a
// tenant-specific row over the global default (tenant_id IS NULL).
func (r *NotificationRepository) GetTemplate(ctx context.Context, tenantID, eventKey, channel, locale string) (*NotificationTemplate, error) {
	query := `
		SELECT id, tenant_id, event_key, channel, locale, subject, body
		FROM notif_templates
		WHERE event_key = $2
		  AND channel = $3::notif_channel
		  AND locale = $4
		  AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`

	t := &NotificationTemplate{}
	err := r.db.QueryRow(ctx, query, tenantID, eventKey, channel, locale).Scan(
		&t.ID, &t.TenantID, &t.EventKey, &t.Channel, &t.Locale, &t.Subject, &t.Body,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("notification_template", eventKey+"/"+channel)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve template")
	}
	return t, nil
}

// ListChannelSettings returns every tenant channel setting row. The notify
// package loads these into an immutable snapshot at startup.
func (r *NotificationRepository) ListChannelSettings(ctx context.Context) ([]*ChannelSetting, error) {
	query := `
		SELECT tenant_id, channel, enabled, locale
		FROM notif_settings
		ORDER BY tenant_id, channel
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list channel settings")
	}
	defer rows.Close()

	var settings []*ChannelSetting
	for rows.Next() {
		s := &ChannelSetting{}
		if err := rows.Scan(&s.TenantID, &s.Channel, &s.Enabled, &s.Locale); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan channel setting")
		}
		settings = append(settings, s)
	}
	return settings, nil
}

// ── inbox ─────────────────────────────────────────────────────────────────────

// InsertInbox writes one in-app notification row.
func (r *NotificationRepository) InsertInbox(ctx context.Context, msg *InboxMessage) error {
	query := `
		INSERT INTO notif_inbox (tenant_id, user_id, event_key, subject, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, msg.TenantID, msg.UserID, msg.EventKey, msg.Subject, msg.Body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert inbox message")
	}
	return nil
}

// ListInbox returns a user's in-app notifications, newest-first.
func (r *NotificationRepository) ListInbox(ctx context.Context, tenantID, userID string, limit int) ([]*InboxMessage, error) {
	query := `
		SELECT id, tenant_id, user_id, event_key, subject, body, read_at, created_at
		FROM notif_inbox
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, tenantID, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list inbox")
	}
	defer rows.Close()

	var msgs []*InboxMessage
	for rows.Next() {
		m := &InboxMessage{}
		err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.EventKey, &m.Subject, &m.Body, &m.ReadAt, &m.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan inbox message")
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type jobScanner interface {
	Scan(dest ...any) error
}

func (r *NotificationRepository) scanJob(row jobScanner) (*NotificationJob, error) {
	job := &NotificationJob{}
	var payloadJSON []byte

	err := row.Scan(
		&job.ID,
		&job.OutboxID,
		&job.TenantID,
		&job.UserID,
		&job.Channel,
		&job.EventKey,
		&payloadJSON,
		&job.State,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan notification job")
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal job payload")
		}
	}
	return job, nil
}
