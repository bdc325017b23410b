// Package downgrade detects profiles that still hold paid-tier artifacts
// after their subscription lapsed to free, and reverts them.
package downgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/notify"
	"github.com/afterword/heartbeat/internal/objectstore"
	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/vault"
)

// defaultThemes and defaultSoulFires are the free-tier cosmetic defaults; any
// other non-null selection is a pro/lifetime signal.
var (
	defaultThemes    = map[string]bool{"oledVoid": true, "midnightFrost": true, "shadowRose": true}
	defaultSoulFires = map[string]bool{"etherealOrb": true, "goldenPulse": true, "nebulaHeart": true}
)

const defaultTimerDays = 30

// Reverter reverts a single free-tier profile back to default limits.
type Reverter struct {
	Vault   vault.Repository
	Profile profile.Repository
	Objects *objectstore.Store
	Notify  *notify.Dispatcher
	Log     zerolog.Logger
}

// Revert inspects p for paid-tier artifacts and reverts them if present.
// Reports true if any change was made -- the caller must then treat p as
// stale and skip every other pass for this profile this cycle.
func (r *Reverter) Revert(ctx context.Context, p *profile.Profile, now time.Time) (bool, error) {
	customTimer := p.TimerDays > defaultTimerDays
	customTheme := p.SelectedTheme != nil && !defaultThemes[*p.SelectedTheme]
	customSoulFire := p.SelectedSoulFire != nil && !defaultSoulFires[*p.SelectedSoulFire]

	audioEntries, err := r.Vault.ListActiveAudioByUser(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("list active audio entries for %s: %w", p.ID, err)
	}
	hasLifetimeAudio := len(audioEntries) > 0

	if !customTimer && !customTheme && !customSoulFire && !hasLifetimeAudio {
		return false, nil
	}

	strongSignal := customTimer || hasLifetimeAudio

	if err := r.Profile.ApplyDowngradeReset(ctx, p.ID, now); err != nil {
		return false, fmt.Errorf("apply downgrade reset for %s: %w", p.ID, err)
	}

	if hasLifetimeAudio {
		if err := r.purgeAudio(ctx, p.ID, audioEntries); err != nil {
			r.Log.Error().Err(err).Str("profile_id", p.ID).Msg("failed to fully purge lifetime audio entries during downgrade")
		}
	}

	r.Log.Info().Str("profile_id", p.ID).
		Bool("custom_timer", customTimer).
		Bool("custom_theme", customTheme).
		Bool("custom_soul_fire", customSoulFire).
		Bool("lifetime_audio", hasLifetimeAudio).
		Msg("reverted paid-tier artifacts for free-tier profile")

	if strongSignal && p.Email != nil && r.Notify != nil {
		if err := r.Notify.SendDowngradeCourtesyEmail(ctx, p.ID, *p.Email, now); err != nil {
			r.Log.Warn().Err(err).Str("profile_id", p.ID).Msg("failed to send downgrade courtesy email")
		}
	}

	return true, nil
}

func (r *Reverter) purgeAudio(ctx context.Context, profileID string, entries []*vault.Entry) error {
	var firstErr error
	for _, entry := range entries {
		if err := r.Vault.Delete(ctx, entry.ID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete audio entry %s: %w", entry.ID, err)
			}
			continue
		}
		if entry.AudioFilePath != nil && r.Objects != nil {
			if err := r.Objects.Remove(ctx, *entry.AudioFilePath); err != nil {
				r.Log.Warn().Err(err).Str("entry_id", entry.ID).Str("profile_id", profileID).Msg("failed to remove purged audio object")
			}
		}
	}
	return firstErr
}
