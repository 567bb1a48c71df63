package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/client"
	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

type fakeJobStore struct {
	queued    []*repository.NotificationJob
	templates map[string]*repository.NotificationTemplate // keyed event_key/channel/locale
	inbox     []*repository.InboxMessage
	sent      []string
	failed    map[string]string
}

func (f *fakeJobStore) ClaimQueued(ctx context.Context, limit int) ([]*repository.NotificationJob, error) {
	jobs := f.queued
	f.queued = nil
	return jobs, nil
}

func (f *fakeJobStore) MarkSent(ctx context.Context, id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeJobStore) MarkJobFailed(ctx context.Context, id, reason string) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = reason
	return nil
}

func (f *fakeJobStore) GetTemplate(ctx context.Context, tenantID, eventKey, channel, locale string) (*repository.NotificationTemplate, error) {
	tmpl, ok := f.templates[eventKey+"/"+channel+"/"+locale]
	if !ok {
		return nil, errors.NotFound("notification_template", eventKey)
	}
	return tmpl, nil
}

func (f *fakeJobStore) InsertInbox(ctx context.Context, msg *repository.InboxMessage) error {
	f.inbox = append(f.inbox, msg)
	return nil
}

type fakeMailer struct {
	messages []*client.MailMessage
	err      error
}

func (f *fakeMailer) Publish(ctx context.Context, msg *client.MailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func queuedJob(id, channel string) *repository.NotificationJob {
	return &repository.NotificationJob{
		ID:       id,
		OutboxID: "ob-1",
		TenantID: "t-1",
		UserID:   "u-1",
		Channel:  channel,
		EventKey: "budget.submitted",
		Payload:  map[string]any{"title": "Q1"},
		State:    repository.JobStateQueued,
	}
}

func deliveryTemplates() map[string]*repository.NotificationTemplate {
	return map[string]*repository.NotificationTemplate{
		"budget.submitted/inapp/en": {Subject: "Budget {{.title}}", Body: "{{.title}} needs review"},
		"budget.submitted/email/en": {Subject: "Budget {{.title}} submitted", Body: "Please review {{.title}}."},
	}
}

func TestDelivery_InAppGoesToInbox(t *testing.T) {
	store := &fakeJobStore{
		queued:    []*repository.NotificationJob{queuedJob("job-1", repository.ChannelInApp)},
		templates: deliveryTemplates(),
	}
	d := NewDelivery(store, loadedSettings(t), &fakeMailer{}, 10, logger.NewNop())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, store.inbox, 1)
	assert.Equal(t, "Budget Q1", store.inbox[0].Subject)
	assert.Equal(t, "Q1 needs review", store.inbox[0].Body)
	assert.Equal(t, "u-1", store.inbox[0].UserID)
	assert.Equal(t, []string{"job-1"}, store.sent)
}

func TestDelivery_EmailGoesToMailer(t *testing.T) {
	store := &fakeJobStore{
		queued:    []*repository.NotificationJob{queuedJob("job-1", repository.ChannelEmail)},
		templates: deliveryTemplates(),
	}
	mailer := &fakeMailer{}
	d := NewDelivery(store, loadedSettings(t), mailer, 10, logger.NewNop())

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, mailer.messages, 1)
	assert.Equal(t, "Budget Q1 submitted", mailer.messages[0].Subject)
	assert.Equal(t, []string{"job-1"}, store.sent)
	assert.Empty(t, store.failed)
}

func TestDelivery_MailerFailureMarksJobFailed(t *testing.T) {
	store := &fakeJobStore{
		queued:    []*repository.NotificationJob{queuedJob("job-1", repository.ChannelEmail)},
		templates: deliveryTemplates(),
	}
	mailer := &fakeMailer{err: fmt.Errorf("NATS is not configured")}
	d := NewDelivery(store, loadedSettings(t), mailer, 10, logger.NewNop())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err, "job failures stay on the job")
	assert.Equal(t, 1, n)

	assert.Contains(t, store.failed["job-1"], "NATS is not configured")
	assert.Empty(t, store.sent)
}

func TestDelivery_MissingTemplateMarksJobFailed(t *testing.T) {
	store := &fakeJobStore{
		queued: []*repository.NotificationJob{queuedJob("job-1", repository.ChannelInApp)},
	}
	d := NewDelivery(store, loadedSettings(t), &fakeMailer{}, 10, logger.NewNop())

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, store.failed["job-1"], "not found")
}

func TestDelivery_OneFailureDoesNotBlockOthers(t *testing.T) {
	store := &fakeJobStore{
		queued: []*repository.NotificationJob{
			queuedJob("job-bad", "fax"),
			queuedJob("job-good", repository.ChannelInApp),
		},
		templates: deliveryTemplates(),
	}
	// A template exists for the bad job so it fails at the channel switch,
	// not at template resolution.
	store.templates["budget.submitted/fax/en"] = &repository.NotificationTemplate{
		Subject: "Budget {{.title}}", Body: "{{.title}}",
	}
	d := NewDelivery(store, loadedSettings(t), &fakeMailer{}, 10, logger.NewNop())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Contains(t, store.failed["job-bad"], "unknown notification channel")
	assert.Equal(t, []string{"job-good"}, store.sent)
}

func TestSettings_EnabledChannels(t *testing.T) {
	s := loadedSettings(t,
		&repository.ChannelSetting{TenantID: "t-1", Channel: repository.ChannelEmail, Enabled: false},
		&repository.ChannelSetting{TenantID: "t-1", Channel: repository.ChannelInApp, Enabled: true, Locale: "de"},
	)

	assert.Equal(t, []string{repository.ChannelInApp}, s.EnabledChannels("t-1"))
	assert.ElementsMatch(t,
		[]string{repository.ChannelInApp, repository.ChannelEmail},
		s.EnabledChannels("t-unknown"))

	assert.Equal(t, "de", s.Locale("t-1"))
	assert.Equal(t, DefaultLocale, s.Locale("t-unknown"))
}

func TestSettings_ReloadReplacesSnapshot(t *testing.T) {
	source := &fakeSettingsSource{rows: []*repository.ChannelSetting{
		{TenantID: "t-1", Channel: repository.ChannelEmail, Enabled: false},
	}}
	s := NewSettings(source)
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, []string{repository.ChannelInApp}, s.EnabledChannels("t-1"))

	source.rows = nil
	require.NoError(t, s.Reload(context.Background()))
	assert.ElementsMatch(t,
		[]string{repository.ChannelInApp, repository.ChannelEmail},
		s.EnabledChannels("t-1"))
}
