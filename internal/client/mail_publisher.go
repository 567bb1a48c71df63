package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// MailPublisher hands rendered email notifications to the platform mailer
// over NATS.
//
// Subject convention: notifications.grants.email
//
// Delivery errors are returned to the caller so the delivery worker can mark
// the job FAILED; they never reach the workflow transition that produced the
// event.
type MailPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// MailMessage is the JSON schema published to the mailer.
type MailMessage struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	EventKey string `json:"event_key"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// NewMailPublisher creates a publisher over an established NATS connection.
// A nil connection produces a publisher that reports every send as failed.
func NewMailPublisher(conn *nats.Conn, log zerolog.Logger) *MailPublisher {
	return &MailPublisher{conn: conn, log: log}
}

// Publish sends one email message to the mailer subject.
func (p *MailPublisher) Publish(ctx context.Context, msg *MailMessage) error {
	if p.conn == nil {
		return fmt.Errorf("mail publisher: NATS is not configured")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mail publisher: marshal message: %w", err)
	}

	const subject = "notifications.grants.email"
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("mail publisher: publish: %w", err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("user_id", msg.UserID).
		Str("event_key", msg.EventKey).
		Msg("email notification published")

	return nil
}
