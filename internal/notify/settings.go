package notify

import (
	"context"
	"sync"

	"github.com/grantline-io/be-grants/internal/repository"
)

// DefaultLocale is used when a tenant has no configured locale.
const DefaultLocale = "en"

// SettingsSource loads channel settings from the store.
type SettingsSource interface {
	ListChannelSettings(ctx context.Context) ([]*repository.ChannelSetting, error)
}

type tenantSettings struct {
	channels map[string]bool
	locale   string
}

// Settings is an immutable snapshot of per-tenant channel configuration,
// loaded at startup and refreshed only by explicit Reload.
type Settings struct {
	source SettingsSource

	mu      sync.RWMutex
	tenants map[string]tenantSettings
}

// NewSettings creates an empty snapshot; call Reload before use.
func NewSettings(source SettingsSource) *Settings {
	return &Settings{
		source:  source,
		tenants: make(map[string]tenantSettings),
	}
}

// Reload replaces the snapshot from the store.
func (s *Settings) Reload(ctx context.Context) error {
	rows, err := s.source.ListChannelSettings(ctx)
	if err != nil {
		return err
	}

	tenants := make(map[string]tenantSettings)
	for _, row := range rows {
		ts, ok := tenants[row.TenantID]
		if !ok {
			ts = tenantSettings{channels: make(map[string]bool), locale: DefaultLocale}
		}
		ts.channels[row.Channel] = row.Enabled
		if row.Locale != "" {
			ts.locale = row.Locale
		}
		tenants[row.TenantID] = ts
	}

	s.mu.Lock()
	s.tenants = tenants
	s.mu.Unlock()
	return nil
}

// EnabledChannels returns the delivery channels enabled for a tenant.
// Tenants without explicit settings get every channel.
func (s *Settings) EnabledChannels(tenantID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.tenants[tenantID]
	if !ok {
		return []string{repository.ChannelInApp, repository.ChannelEmail}
	}

	var channels []string
	for _, ch := range []string{repository.ChannelInApp, repository.ChannelEmail} {
		enabled, configured := ts.channels[ch]
		if !configured || enabled {
			channels = append(channels, ch)
		}
	}
	return channels
}

// Locale returns the tenant's notification locale.
func (s *Settings) Locale(tenantID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ts, ok := s.tenants[tenantID]; ok {
		return ts.locale
	}
	return DefaultLocale
}
