package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeTxRunner struct{}

func (fakeTxRunner) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeOutboxSource struct {
	entries []*repository.OutboxEntry
	done    []string
	failed  map[string]string
}

func (f *fakeOutboxSource) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*repository.OutboxEntry, error) {
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeOutboxSource) MarkDone(ctx context.Context, tx pgx.Tx, id string) error {
	f.done = append(f.done, id)
	return nil
}

func (f *fakeOutboxSource) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = reason
	return nil
}

type fakeJobCreator struct {
	jobs []*repository.NotificationJob
	err  error
}

func (f *fakeJobCreator) CreateJob(ctx context.Context, tx pgx.Tx, job *repository.NotificationJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeDirectory struct {
	usersByRole map[string][]string
	err         error
}

func (f *fakeDirectory) UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.usersByRole[role], nil
}

type fakeSettingsSource struct {
	rows []*repository.ChannelSetting
}

func (f *fakeSettingsSource) ListChannelSettings(ctx context.Context) ([]*repository.ChannelSetting, error) {
	return f.rows, nil
}

func loadedSettings(t *testing.T, rows ...*repository.ChannelSetting) *Settings {
	t.Helper()
	s := NewSettings(&fakeSettingsSource{rows: rows})
	require.NoError(t, s.Reload(context.Background()))
	return s
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestFanout_OneEntryThreeEligiblePairsYieldsThreeJobs(t *testing.T) {
	outbox := &fakeOutboxSource{entries: []*repository.OutboxEntry{{
		ID:       "ob-1",
		TenantID: "t-1",
		EventKey: "budget.submitted",
		Payload:  map[string]any{"title": "Q1"},
	}}}
	jobs := &fakeJobCreator{}
	audience := NewAudience(&fakeDirectory{usersByRole: map[string][]string{
		"GRANTS_MANAGER": {"u-1", "u-2", "u-3"},
	}})
	settings := loadedSettings(t,
		&repository.ChannelSetting{TenantID: "t-1", Channel: repository.ChannelEmail, Enabled: false},
	)

	f := NewFanout(fakeTxRunner{}, outbox, jobs, audience, settings, 10, logger.NewNop())

	n, err := f.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 3 users x 1 enabled channel = exactly 3 jobs.
	require.Len(t, jobs.jobs, 3)
	for _, job := range jobs.jobs {
		assert.Equal(t, "ob-1", job.OutboxID)
		assert.Equal(t, repository.ChannelInApp, job.Channel)
		assert.Equal(t, "budget.submitted", job.EventKey)
		assert.Equal(t, map[string]any{"title": "Q1"}, job.Payload)
	}
	assert.Equal(t, []string{"ob-1"}, outbox.done)
	assert.Empty(t, outbox.failed)
}

func TestFanout_BothChannelsByDefault(t *testing.T) {
	outbox := &fakeOutboxSource{entries: []*repository.OutboxEntry{{
		ID: "ob-1", TenantID: "t-unconfigured", EventKey: "budget.approved",
	}}}
	jobs := &fakeJobCreator{}
	audience := NewAudience(&fakeDirectory{usersByRole: map[string][]string{
		"PARTNER_ADMIN": {"u-1"},
	}})

	f := NewFanout(fakeTxRunner{}, outbox, jobs, audience, loadedSettings(t), 10, logger.NewNop())

	_, err := f.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, jobs.jobs, 2)
	channels := []string{jobs.jobs[0].Channel, jobs.jobs[1].Channel}
	assert.ElementsMatch(t, []string{repository.ChannelInApp, repository.ChannelEmail}, channels)
}

func TestFanout_AudienceFailureMarksEntryFailed(t *testing.T) {
	outbox := &fakeOutboxSource{entries: []*repository.OutboxEntry{{
		ID: "ob-1", TenantID: "t-1", EventKey: "budget.submitted",
	}}}
	audience := NewAudience(&fakeDirectory{err: fmt.Errorf("identity service unavailable")})

	f := NewFanout(fakeTxRunner{}, outbox, &fakeJobCreator{}, audience, loadedSettings(t), 10, logger.NewNop())

	n, err := f.RunOnce(context.Background())
	require.NoError(t, err, "a failed entry does not fail the batch")
	assert.Equal(t, 1, n)
	assert.Contains(t, outbox.failed["ob-1"], "identity service unavailable")
	assert.Empty(t, outbox.done)
}

func TestFanout_EmptyAudienceCompletesEntry(t *testing.T) {
	outbox := &fakeOutboxSource{entries: []*repository.OutboxEntry{{
		ID: "ob-1", TenantID: "t-1", EventKey: "budget.submitted",
	}}}
	jobs := &fakeJobCreator{}
	audience := NewAudience(&fakeDirectory{})

	f := NewFanout(fakeTxRunner{}, outbox, jobs, audience, loadedSettings(t), 10, logger.NewNop())

	_, err := f.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs.jobs)
	assert.Equal(t, []string{"ob-1"}, outbox.done)
}

func TestAudience_DeduplicatesAcrossRoles(t *testing.T) {
	audience := NewAudience(&fakeDirectory{usersByRole: map[string][]string{
		"PARTNER_ADMIN":   {"u-1", "u-2"},
		"FINANCE_MANAGER": {"u-2", "u-3"},
	}})

	// contract.activated notifies both roles.
	users, err := audience.ResolveUsers(context.Background(), "t-1", "contract.activated")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-1", "u-2", "u-3"}, users)
}

func TestAudience_UnknownEventHasNoAudience(t *testing.T) {
	audience := NewAudience(&fakeDirectory{usersByRole: map[string][]string{
		"GRANTS_MANAGER": {"u-1"},
	}})

	users, err := audience.ResolveUsers(context.Background(), "t-1", "no.such.event")
	require.NoError(t, err)
	assert.Empty(t, users)
}
