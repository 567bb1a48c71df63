package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/grantline-io/be-grants/internal/client"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// Mailer hands rendered email messages to the platform mailer.
type Mailer interface {
	Publish(ctx context.Context, msg *client.MailMessage) error
}

// JobStore claims, settles and supports delivering jobs. Satisfied by
// repository.NotificationRepository.
type JobStore interface {
	ClaimQueued(ctx context.Context, limit int) ([]*repository.NotificationJob, error)
	MarkSent(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, reason string) error
	GetTemplate(ctx context.Context, tenantID, eventKey, channel, locale string) (*repository.NotificationTemplate, error)
	InsertInbox(ctx context.Context, msg *repository.InboxMessage) error
}

// Delivery sends claimed jobs over their channel. Job failures are recorded
// on the job and never propagate anywhere else.
type Delivery struct {
	notif    JobStore
	settings *Settings
	mailer   Mailer
	batch    int
	log      *logger.Logger
}

// NewDelivery creates a delivery worker.
func NewDelivery(notif JobStore, settings *Settings, mailer Mailer, batch int, log *logger.Logger) *Delivery {
	return &Delivery{
		notif:    notif,
		settings: settings,
		mailer:   mailer,
		batch:    batch,
		log:      log,
	}
}

// Run polls on the given interval until ctx is done.
func (d *Delivery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.RunOnce(ctx); err != nil {
				d.log.Error().Err(err).Msg("notification delivery cycle failed")
			} else if n > 0 {
				d.log.Debug().Int("jobs", n).Msg("notification delivery cycle done")
			}
		}
	}
}

// RunOnce claims one batch of QUEUED jobs and delivers each.
func (d *Delivery) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.notif.ClaimQueued(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := d.deliver(ctx, job); err != nil {
			d.log.Warn().Err(err).
				Str("job_id", job.ID).
				Str("channel", job.Channel).
				Str("user_id", job.UserID).
				Msg("notification delivery failed")
			if markErr := d.notif.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				d.log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to record job failure")
			}
			continue
		}
		if err := d.notif.MarkSent(ctx, job.ID); err != nil {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job sent")
		}
	}
	return len(jobs), nil
}

// deliver resolves the template and performs the channel-specific send.
func (d *Delivery) deliver(ctx context.Context, job *repository.NotificationJob) error {
	locale := d.settings.Locale(job.TenantID)

	tmpl, err := d.notif.GetTemplate(ctx, job.TenantID, job.EventKey, job.Channel, locale)
	if err != nil {
		return err
	}

	subject, body, err := Render(tmpl, job.Payload)
	if err != nil {
		return err
	}

	switch job.Channel {
	case repository.ChannelInApp:
		return d.notif.InsertInbox(ctx, &repository.InboxMessage{
			TenantID: job.TenantID,
			UserID:   job.UserID,
			EventKey: job.EventKey,
			Subject:  subject,
			Body:     body,
		})
	case repository.ChannelEmail:
		return d.mailer.Publish(ctx, &client.MailMessage{
			TenantID: job.TenantID,
			UserID:   job.UserID,
			EventKey: job.EventKey,
			Subject:  subject,
			Body:     body,
		})
	default:
		return fmt.Errorf("unknown notification channel %q", job.Channel)
	}
}
