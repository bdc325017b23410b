// Package lifecycle decides a profile's post-execution state: stay active
// pending retry, enter the 30-day inactive grace period, refuse to reset on
// suspected data loss, or reset to fresh-active.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/vault"
)

// Controller applies the four-way post-execution branch after an executor
// run.
type Controller struct {
	Vault   vault.Repository
	Profile profile.Repository
	Log     zerolog.Logger
}

// Outcome names which branch Apply took, for tests and cycle-level logging.
type Outcome string

const (
	OutcomeLeftActive   Outcome = "left_active"
	OutcomeGraceEntered Outcome = "grace_entered"
	OutcomeDataLossTrip Outcome = "data_loss_trip"
	OutcomeFreshReset   Outcome = "fresh_reset"
)

// Apply runs the four-way branch for profileID given the outcome of the
// executor's Execute call. now is stamped into last_check_in /
// protocol_executed_at on the branches that touch them.
func (c *Controller) Apply(ctx context.Context, profileID string, hadSend bool, inputSendCount int, now time.Time) (Outcome, error) {
	pending, err := c.Vault.CountPendingByUser(ctx, profileID)
	if err != nil {
		return "", fmt.Errorf("count pending entries for %s: %w", profileID, err)
	}

	logField := c.Log.With().Str("profile_id", profileID).Logger()

	if pending > 0 {
		logField.Info().Int("pending", pending).Msg("entries remain pending, leaving profile active for retry")
		if err := c.markActivity(ctx, profileID); err != nil {
			return "", err
		}
		return OutcomeLeftActive, nil
	}

	if hadSend {
		if err := c.Profile.SetInactiveGrace(ctx, profileID, now); err != nil {
			return "", fmt.Errorf("set inactive grace for %s: %w", profileID, err)
		}
		logField.Info().Msg("entered 30-day inactive grace period after successful send")
		return OutcomeGraceEntered, nil
	}

	if inputSendCount > 0 {
		logField.Error().Int("input_send_count", inputSendCount).Msg("CRITICAL: send entries existed but none succeeded and none remain pending, refusing reset")
		if err := c.markActivity(ctx, profileID); err != nil {
			return "", err
		}
		return OutcomeDataLossTrip, nil
	}

	if err := c.Profile.ResetFreshActive(ctx, profileID, now); err != nil {
		return "", fmt.Errorf("reset fresh active for %s: %w", profileID, err)
	}
	logField.Info().Msg("reset to fresh-active after destroy-only execution")
	return OutcomeFreshReset, nil
}

func (c *Controller) markActivity(ctx context.Context, profileID string) error {
	if err := c.Profile.MarkHadVaultActivity(ctx, profileID); err != nil {
		return fmt.Errorf("mark vault activity for %s: %w", profileID, err)
	}
	return nil
}
