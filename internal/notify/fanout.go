// Package notify implements the two-stage notification pipeline: fan-out from
// outbox entries to per-user delivery jobs, and per-job delivery with template
// resolution. Both stages are periodic batch workers; neither is ordered with
// respect to the workflow commits that feed them beyond "outbox insert
// happens-before fan-out reads it".
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// OutboxSource claims and settles outbox entries. Satisfied by
// repository.OutboxRepository.
type OutboxSource interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*repository.OutboxEntry, error)
	MarkDone(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) error
}

// JobCreator inserts delivery jobs. Satisfied by
// repository.NotificationRepository.
type JobCreator interface {
	CreateJob(ctx context.Context, tx pgx.Tx, job *repository.NotificationJob) error
}

// Fanout expands PENDING outbox entries into QUEUED delivery jobs.
type Fanout struct {
	db       TxRunner
	outbox   OutboxSource
	notif    JobCreator
	audience *Audience
	settings *Settings
	batch    int
	log      *logger.Logger
}

// NewFanout creates a fan-out worker.
func NewFanout(db TxRunner, outbox OutboxSource, notif JobCreator, audience *Audience, settings *Settings, batch int, log *logger.Logger) *Fanout {
	return &Fanout{
		db:       db,
		outbox:   outbox,
		notif:    notif,
		audience: audience,
		settings: settings,
		batch:    batch,
		log:      log,
	}
}

// Run polls on the given interval until ctx is done.
func (f *Fanout) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := f.RunOnce(ctx); err != nil {
				f.log.Error().Err(err).Msg("notification fan-out cycle failed")
			} else if n > 0 {
				f.log.Debug().Int("entries", n).Msg("notification fan-out cycle done")
			}
		}
	}
}

// RunOnce claims one batch of PENDING entries and fans each out. Returns the
// number of entries processed. Per-entry failures mark that entry FAILED and
// do not abort the batch.
func (f *Fanout) RunOnce(ctx context.Context) (int, error) {
	processed := 0

	err := f.db.InTransaction(ctx, func(tx pgx.Tx) error {
		entries, err := f.outbox.ClaimPending(ctx, tx, f.batch)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			processed++
			if err := f.fanOutEntry(ctx, tx, entry); err != nil {
				f.log.Warn().Err(err).
					Str("outbox_id", entry.ID).
					Str("event_key", entry.EventKey).
					Msg("outbox entry fan-out failed")
				if markErr := f.outbox.MarkFailed(ctx, tx, entry.ID, err.Error()); markErr != nil {
					return markErr
				}
				continue
			}
			if err := f.outbox.MarkDone(ctx, tx, entry.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// fanOutEntry creates one QUEUED job per (user, enabled channel) pair.
func (f *Fanout) fanOutEntry(ctx context.Context, tx pgx.Tx, entry *repository.OutboxEntry) error {
	users, err := f.audience.ResolveUsers(ctx, entry.TenantID, entry.EventKey)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	channels := f.settings.EnabledChannels(entry.TenantID)

	for _, userID := range users {
		for _, channel := range channels {
			job := &repository.NotificationJob{
				OutboxID: entry.ID,
				TenantID: entry.TenantID,
				UserID:   userID,
				Channel:  channel,
				EventKey: entry.EventKey,
				Payload:  entry.Payload,
			}
			if err := f.notif.CreateJob(ctx, tx, job); err != nil {
				return fmt.Errorf("create job for user %s channel %s: %w", userID, channel, err)
			}
		}
	}
	return nil
}
