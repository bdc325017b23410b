// Package cleanup implements the two end-of-run sweeps: aging out sent
// entries past their 30-day grace period (and the orphan profiles left
// behind), and deleting accounts that never did anything in 90 days.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/pagination"
	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/vault"
)

const (
	sentGracePeriod   = 30 * 24 * time.Hour
	botStaleAge       = 90 * 24 * time.Hour
	botNeverCheckedIn = 60 * time.Second
)

// Sweeper runs the sent-aged-out sweep and the bot-cleanup sweep.
type Sweeper struct {
	Vault   vault.Repository
	Profile profile.Repository
	Objects interface {
		Remove(ctx context.Context, key string) error
	}
	PageSize int
	Log      zerolog.Logger
}

func (s *Sweeper) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return pagination.DefaultPageSize
}

// SweepSentAgedOut tombstones, deletes, and (best-effort) removes the audio
// object for every sent entry older than the 30-day grace period, then
// resets to fresh-active any touched profile left with zero entries. It
// also resets any inactive profile whose grace period itself expired with
// no entries left to process.
func (s *Sweeper) SweepSentAgedOut(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-sentGracePeriod)
	touched := map[string]bool{}
	senderNames := map[string]string{}

	fetch := func(ctx context.Context, after string, limit int) ([]*vault.Entry, error) {
		return s.Vault.ListSentOlderThanPage(ctx, cutoff, after, limit)
	}
	idOf := func(e *vault.Entry) string { return e.ID }

	err := pagination.Iterate(ctx, s.pageSize(), fetch, idOf, func(entry *vault.Entry) error {
		senderName, err := s.senderNameFor(ctx, entry.UserID, senderNames)
		if err != nil {
			s.Log.Warn().Err(err).Str("user_id", entry.UserID).Msg("failed to resolve sender name for tombstone")
		}

		if entry.SentAt != nil {
			tomb := vault.Tombstone{
				VaultEntryID: entry.ID,
				UserID:       entry.UserID,
				SenderName:   senderName,
				SentAt:       *entry.SentAt,
				ExpiredAt:    now,
			}
			if err := s.Vault.InsertTombstone(ctx, tomb); err != nil {
				s.Log.Warn().Err(err).Str("entry_id", entry.ID).Msg("failed to insert tombstone, continuing")
			}
		}

		if err := s.Vault.Delete(ctx, entry.ID); err != nil {
			return fmt.Errorf("delete aged-out entry %s: %w", entry.ID, err)
		}
		touched[entry.UserID] = true

		if entry.AudioFilePath != nil && s.Objects != nil {
			if err := s.Objects.Remove(ctx, *entry.AudioFilePath); err != nil {
				s.Log.Warn().Err(err).Str("entry_id", entry.ID).Msg("failed to remove aged-out audio object")
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep sent-aged-out entries: %w", err)
	}

	for userID := range touched {
		if err := s.resetIfNoRemainingEntries(ctx, userID, now); err != nil {
			s.Log.Error().Err(err).Str("user_id", userID).Msg("failed to reset profile after aged-out sweep")
		}
	}

	if err := s.sweepOrphanInactiveGrace(ctx, now); err != nil {
		return fmt.Errorf("sweep orphan inactive grace profiles: %w", err)
	}
	return nil
}

func (s *Sweeper) senderNameFor(ctx context.Context, userID string, cache map[string]string) (string, error) {
	if name, ok := cache[userID]; ok {
		return name, nil
	}
	p, err := s.Profile.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	cache[userID] = p.SenderName
	return p.SenderName, nil
}

func (s *Sweeper) resetIfNoRemainingEntries(ctx context.Context, userID string, now time.Time) error {
	remaining, err := s.Vault.CountAnyByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("count remaining entries for %s: %w", userID, err)
	}
	if remaining > 0 {
		return nil
	}
	if err := s.Profile.ResetFreshActive(ctx, userID, now); err != nil {
		return fmt.Errorf("reset fresh active for %s: %w", userID, err)
	}
	return nil
}

func (s *Sweeper) sweepOrphanInactiveGrace(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-sentGracePeriod)
	fetch := func(ctx context.Context, after string, limit int) ([]*profile.Profile, error) {
		return s.Profile.ListInactiveWithExpiredGracePage(ctx, cutoff, after, limit)
	}
	idOf := func(p *profile.Profile) string { return p.ID }

	return pagination.Iterate(ctx, s.pageSize(), fetch, idOf, func(p *profile.Profile) error {
		if err := s.resetIfNoRemainingEntries(ctx, p.ID, now); err != nil {
			s.Log.Error().Err(err).Str("user_id", p.ID).Msg("failed to reset orphan inactive-grace profile")
		}
		return nil
	})
}

// SweepBots deletes every active profile older than 90 days that never did
// anything: never checked in past creation, no vault activity flag, zero
// entries, zero tombstone history. A single deletion failure is logged and
// does not abort the sweep.
func (s *Sweeper) SweepBots(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-botStaleAge)
	fetch := func(ctx context.Context, after string, limit int) ([]*profile.Profile, error) {
		return s.Profile.ListStaleActivePage(ctx, cutoff, after, limit)
	}
	idOf := func(p *profile.Profile) string { return p.ID }

	return pagination.Iterate(ctx, s.pageSize(), fetch, idOf, func(p *profile.Profile) error {
		isBot, err := s.isBot(ctx, p)
		if err != nil {
			s.Log.Error().Err(err).Str("user_id", p.ID).Msg("failed to evaluate bot-cleanup predicate")
			return nil
		}
		if !isBot {
			return nil
		}
		if err := s.Profile.DeleteUser(ctx, p.ID); err != nil {
			s.Log.Error().Err(err).Str("user_id", p.ID).Msg("failed to delete bot account")
		}
		return nil
	})
}

func (s *Sweeper) isBot(ctx context.Context, p *profile.Profile) (bool, error) {
	neverRefreshed := absDuration(p.LastCheckIn.Sub(p.CreatedAt)) <= botNeverCheckedIn
	if !neverRefreshed || p.HadVaultActivity {
		return false, nil
	}

	entryCount, err := s.Vault.CountAnyByUser(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("count entries for %s: %w", p.ID, err)
	}
	if entryCount > 0 {
		return false, nil
	}

	tombstoneCount, err := s.Vault.CountTombstonesByUser(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("count tombstones for %s: %w", p.ID, err)
	}
	return tombstoneCount == 0, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
