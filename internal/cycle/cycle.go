// Package cycle orchestrates one full heartbeat run: stale-lock recovery,
// the per-profile downgrade/execute/lifecycle/notify passes within a wall
// clock budget, and the two end-of-run cleanup sweeps.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/cleanup"
	"github.com/afterword/heartbeat/internal/crypto"
	"github.com/afterword/heartbeat/internal/downgrade"
	"github.com/afterword/heartbeat/internal/executor"
	"github.com/afterword/heartbeat/internal/lifecycle"
	"github.com/afterword/heartbeat/internal/notify"
	"github.com/afterword/heartbeat/internal/pagination"
	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/timer"
)

// Cycle wires every pass of a single heartbeat run together.
type Cycle struct {
	Profile   profile.Repository
	Downgrade *downgrade.Reverter
	Executor  *executor.Executor
	Lifecycle *lifecycle.Controller
	Notify    *notify.Dispatcher
	Cleanup   *cleanup.Sweeper
	ServerKey [32]byte
	PageSize  int
	RunBudget time.Duration
	DryRun    bool
	Log       zerolog.Logger

	// Now returns the current instant; overridable in tests. Defaults to
	// time.Now.
	Now func() time.Time
}

// Stats summarizes one Run for the entry point's exit logging.
type Stats struct {
	ProfilesVisited int
	ProfilesExpired int
	Downgraded      int
	DataLossTrips   int
}

func (c *Cycle) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cycle) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return pagination.DefaultPageSize
}

// Run executes the full cycle: stale-lock recovery, the per-profile loop
// bounded by RunBudget, then the two cleanup sweeps. It returns an error
// only when the run itself cannot proceed; per-profile failures are logged
// and the loop continues.
func (c *Cycle) Run(ctx context.Context) (Stats, error) {
	start := c.now()
	deadline := start.Add(c.RunBudget)

	if !c.DryRun {
		if _, err := c.Executor.RecoverStaleLocks(ctx, start); err != nil {
			return Stats{}, fmt.Errorf("recover stale locks: %w", err)
		}
	}

	var stats Stats
	budgetExceeded := false

	fetch := func(ctx context.Context, after string, limit int) ([]*profile.Profile, error) {
		return c.Profile.ListExpiredActivePage(ctx, after, limit)
	}
	idOf := func(p *profile.Profile) string { return p.ID }

	err := pagination.Iterate(ctx, c.pageSize(), fetch, idOf, func(p *profile.Profile) error {
		if budgetExceeded {
			return nil
		}
		now := c.now()
		if now.After(deadline) {
			c.Log.Warn().Msg("run budget exceeded, stopping profile loop cleanly between profiles")
			budgetExceeded = true
			return nil
		}

		stats.ProfilesVisited++
		if c.processProfile(ctx, p, now, &stats) {
			stats.ProfilesExpired++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("iterate expired-active profiles: %w", err)
	}

	if c.DryRun {
		return stats, nil
	}

	if c.Cleanup != nil {
		sweepNow := c.now()
		if err := c.Cleanup.SweepSentAgedOut(ctx, sweepNow); err != nil {
			c.Log.Error().Err(err).Msg("sent-aged-out sweep failed")
		}
		if err := c.Cleanup.SweepBots(ctx, sweepNow); err != nil {
			c.Log.Error().Err(err).Msg("bot-cleanup sweep failed")
		}
	}

	return stats, nil
}

// processProfile runs the downgrade, execute, lifecycle, and notification
// passes for one profile. Returns true if the profile's timer had expired.
func (c *Cycle) processProfile(ctx context.Context, p *profile.Profile, now time.Time, stats *Stats) bool {
	logField := c.Log.With().Str("profile_id", p.ID).Logger()

	if c.DryRun {
		state := timer.Build(p.LastCheckIn, p.TimerDays, now)
		logField.Info().Bool("expired", state.Expired(now)).Msg("dry run: would process profile")
		return state.Expired(now)
	}

	if isFreeSubscription(p.SubscriptionStatus) && c.Downgrade != nil {
		changed, err := c.Downgrade.Revert(ctx, p, now)
		if err != nil {
			logField.Error().Err(err).Msg("downgrade revert failed")
		}
		if changed {
			stats.Downgraded++
			return false
		}
	}

	state := timer.Build(p.LastCheckIn, p.TimerDays, now)
	if !state.Expired(now) {
		c.processNotifications(ctx, p, state, now, logField)
		return false
	}

	hmacKey := c.decryptHMACKey(p, logField)
	hadSend, inputSendCount, err := c.Executor.Execute(ctx, p.ID, p.SenderName, hmacKey, c.ServerKey, now)
	if err != nil {
		logField.Error().Err(err).Msg("entry execution failed")
		return true
	}

	outcome, err := c.Lifecycle.Apply(ctx, p.ID, hadSend, inputSendCount, now)
	if err != nil {
		logField.Error().Err(err).Msg("lifecycle apply failed")
		return true
	}
	if outcome == lifecycle.OutcomeDataLossTrip {
		stats.DataLossTrips++
	}
	return true
}

func isFreeSubscription(subscriptionStatus string) bool {
	return subscriptionStatus == "free"
}

// decryptHMACKey opens a profile's HMAC key envelope. A missing or
// undecryptable key is logged and treated as unavailable: the executor
// releases every send-type entry for this profile rather than process it.
func (c *Cycle) decryptHMACKey(p *profile.Profile, logField zerolog.Logger) []byte {
	if p.HMACKeyEncrypted == nil || *p.HMACKeyEncrypted == "" {
		logField.Error().Msg("CRITICAL: profile has no HMAC key, send entries will be released")
		return nil
	}
	key, err := crypto.Decrypt(crypto.ExtractServerEnvelope(*p.HMACKeyEncrypted), c.ServerKey)
	if err != nil {
		logField.Error().Err(err).Msg("CRITICAL: failed to decrypt profile HMAC key, send entries will be released")
		return nil
	}
	return key
}

func (c *Cycle) processNotifications(ctx context.Context, p *profile.Profile, state timer.State, now time.Time, logField zerolog.Logger) {
	if c.Notify == nil {
		return
	}

	if timer.IsPaid(p.SubscriptionStatus) && p.Email != nil {
		if timer.DueAndUnsent(now, state.Email24hAt, p.WarningSentAt, p.LastCheckIn) {
			if err := c.Notify.SendReminderEmail(ctx, p.ID, *p.Email, state.RemainingFraction, now); err != nil {
				logField.Warn().Err(err).Msg("failed to send reminder email")
			} else if err := c.Profile.MarkWarningSent(ctx, p.ID, now); err != nil {
				logField.Error().Err(err).Msg("failed to mark warning sent")
			}
		}
	}

	remaining := time.Duration(state.RemainingSeconds) * time.Second

	if timer.DueAndUnsent(now, state.Push66At, p.Push66SentAt, p.LastCheckIn) {
		if err := c.Notify.SendRemainingPush(ctx, p.ID, remaining); err != nil {
			logField.Warn().Err(err).Msg("failed to send 66% remaining push")
		} else if err := c.Profile.MarkPush66Sent(ctx, p.ID, now); err != nil {
			logField.Error().Err(err).Msg("failed to mark push 66 sent")
		}
	}

	if timer.DueAndUnsent(now, state.Push33At, p.Push33SentAt, p.LastCheckIn) {
		if err := c.Notify.SendRemainingPush(ctx, p.ID, remaining); err != nil {
			logField.Warn().Err(err).Msg("failed to send 33% remaining push")
		} else if err := c.Profile.MarkPush33Sent(ctx, p.ID, now); err != nil {
			logField.Error().Err(err).Msg("failed to mark push 33 sent")
		}
	}
}
