package validation

import (
	"context"
	"time"

	"github.com/rendis/stepcheck/pkg/schema"
)

// TierLimits are the plan ceilings applied to delay and digest controls.
type TierLimits struct {
	MaxDelay    time.Duration `json:"max_delay"`
	MaxDigest   time.Duration `json:"max_digest"`
	CronAllowed bool          `json:"cron_allowed"`
}

// SystemTierLimits is the hard ceiling used when an organization has no
// limits on record or the lookup fails.
var SystemTierLimits = TierLimits{
	MaxDelay:    90 * 24 * time.Hour,
	MaxDigest:   90 * 24 * time.Hour,
	CronAllowed: true,
}

// TierLookup returns an organization's plan limits. A nil result with a nil
// error means no limits are on record.
type TierLookup interface {
	Limits(ctx context.Context, organizationID string) (*TierLimits, error)
}

// IntegrationLookup reports whether an environment has an active provider
// integration for a channel, optionally requiring it to be primary.
type IntegrationLookup interface {
	HasActiveIntegration(ctx context.Context, environmentID string, channel schema.Channel, primary bool) (bool, error)
}

// NoTierData is a TierLookup with no records. Every organization gets the
// system default.
type NoTierData struct{}

// Limits implements TierLookup.
func (NoTierData) Limits(context.Context, string) (*TierLimits, error) { return nil, nil }

// StaticIntegrations is an IntegrationLookup backed by a fixed answer per
// channel. Channels not in the map have no integration.
type StaticIntegrations map[schema.Channel]bool

// HasActiveIntegration implements IntegrationLookup.
func (s StaticIntegrations) HasActiveIntegration(_ context.Context, _ string, channel schema.Channel, _ bool) (bool, error) {
	return s[channel], nil
}

// AllIntegrations answers true for every channel. The check command uses it
// when no store is configured.
type AllIntegrations struct{}

// HasActiveIntegration implements IntegrationLookup.
func (AllIntegrations) HasActiveIntegration(context.Context, string, schema.Channel, bool) (bool, error) {
	return true, nil
}
