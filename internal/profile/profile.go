// Package profile models one user's vault account: their check-in timer,
// subscription tier, notification cursor, and cosmetic selections.
package profile

import (
	"context"
	"errors"
	"time"
)

// Status values for Profile.Status.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// Sentinel errors for the profile package.
var (
	ErrNotFound      = errors.New("profile not found")
	ErrNotMutated    = errors.New("conditional update affected no rows")
	ErrMissingHMACKey = errors.New("profile has no usable HMAC key")
)

// Profile is one row of the profiles table.
type Profile struct {
	ID                  string
	Email               *string
	SenderName          string
	Status              string
	SubscriptionStatus  string
	LastCheckIn         time.Time
	TimerDays           int
	HMACKeyEncrypted    *string
	WarningSentAt       *time.Time
	Push66SentAt        *time.Time
	Push33SentAt        *time.Time
	ProtocolExecutedAt  *time.Time
	HadVaultActivity    bool
	SelectedTheme       *string
	SelectedSoulFire    *string
	CreatedAt           time.Time
}

// NormalizedTimerDays returns p.TimerDays clamped to the minimum valid value
// of 1, per the Profile invariant that timer_days is always >= 1 on read.
func (p *Profile) NormalizedTimerDays() int {
	if p.TimerDays < 1 {
		return 1
	}
	return p.TimerDays
}

// ResetFields groups the columns a fresh-active or destroy-only reset
// writes back. No repository method takes it; the lifecycle controller and
// the cleanup sweeper both reset through Repository.ResetFreshActive.
type ResetFields struct {
	Status      string
	TimerDays   int
	LastCheckIn time.Time
}

// Repository is the narrow set of profile operations the heartbeat cycle
// needs. Implemented by PGRepository against Postgres; a fake implementation
// backs the executor/lifecycle/downgrade/cleanup unit tests.
type Repository interface {
	// GetByID returns the profile with the given id.
	GetByID(ctx context.Context, id string) (*Profile, error)

	// ListExpiredActivePage returns up to limit active profiles with id > after,
	// ordered by ascending id, for keyset pagination.
	ListExpiredActivePage(ctx context.Context, after string, limit int) ([]*Profile, error)

	// ListFreeSubscribersPage returns up to limit profiles with
	// subscription_status = 'free', ordered by ascending id, for the
	// downgrade reverter's sweep.
	ListFreeSubscribersPage(ctx context.Context, after string, limit int) ([]*Profile, error)

	// ListInactiveWithExpiredGracePage returns up to limit inactive profiles
	// whose protocol_executed_at is older than olderThan, ordered by
	// ascending id.
	ListInactiveWithExpiredGracePage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Profile, error)

	// ListStaleActivePage returns up to limit active profiles created before
	// olderThan, ordered by ascending id, for the bot-cleanup sweep.
	ListStaleActivePage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Profile, error)

	// MarkWarningSent stamps warning_sent_at = sentAt for id.
	MarkWarningSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkPush66Sent stamps push_66_sent_at = sentAt for id.
	MarkPush66Sent(ctx context.Context, id string, sentAt time.Time) error

	// MarkPush33Sent stamps push_33_sent_at = sentAt for id.
	MarkPush33Sent(ctx context.Context, id string, sentAt time.Time) error

	// SetInactiveGrace begins the 30-day grace period after a successful send:
	// status=inactive, timer_days=30, protocol_executed_at=now, all reminder
	// timestamps cleared, had_vault_activity=true.
	SetInactiveGrace(ctx context.Context, id string, now time.Time) error

	// ResetFreshActive resets a profile to fresh-active: status=active,
	// timer_days=30, last_check_in=now, all reminder/execution timestamps
	// cleared, had_vault_activity=true.
	ResetFreshActive(ctx context.Context, id string, now time.Time) error

	// MarkHadVaultActivity sets had_vault_activity=true without otherwise
	// touching the profile, used on the data-loss-trip path where the
	// profile must stay exactly as it was except for this flag.
	MarkHadVaultActivity(ctx context.Context, id string) error

	// ApplyDowngradeReset reverts paid-tier artifacts: timer_days=30,
	// last_check_in=now, reminder timestamps cleared, theme and soul-fire
	// nulled.
	ApplyDowngradeReset(ctx context.Context, id string, now time.Time) error

	// DeleteUser deletes the auth user owning id, cascading to the profile
	// and its push devices.
	DeleteUser(ctx context.Context, id string) error
}
