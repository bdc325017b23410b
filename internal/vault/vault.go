// Package vault models individual encrypted vault entries and the narrow set
// of conditional-update operations the executor and cleanup sweeper use to
// move them through their lifecycle safely under concurrent retries.
package vault

import (
	"context"
	"errors"
	"time"
)

// Action types for VaultEntry.ActionType.
const (
	ActionSend    = "send"
	ActionDestroy = "destroy"
)

// Status values for VaultEntry.Status.
const (
	StatusActive  = "active"
	StatusSending = "sending"
	StatusSent    = "sent"
)

// Sentinel errors for the vault package.
var ErrNotFound = errors.New("vault entry not found")

// Entry is one row of the vault_entries table.
type Entry struct {
	ID                       string
	UserID                   string
	Title                    string
	ActionType               string
	DataType                 string
	Status                   string
	PayloadEncrypted         string
	RecipientEmailEncrypted  string
	DataKeyEncrypted         string
	HMACSignature            string
	AudioFilePath            *string
	SentAt                   *time.Time
	UpdatedAt                time.Time
}

// Tombstone is an insert-only historical marker written before a sent entry
// is deleted during the 30-day-aged-out sweep.
type Tombstone struct {
	VaultEntryID string
	UserID       string
	SenderName   string
	SentAt       time.Time
	ExpiredAt    time.Time
}

// Repository is the narrow set of vault entry operations the heartbeat cycle
// needs.
type Repository interface {
	// ListActiveByUser returns every entry in {active, sending} belonging to
	// userID, used by the executor to gather a user's work for a cycle.
	ListActiveByUser(ctx context.Context, userID string) ([]*Entry, error)

	// CountPendingByUser counts entries still in {active, sending} for
	// userID, used by the lifecycle controller to decide whether to reset.
	CountPendingByUser(ctx context.Context, userID string) (int, error)

	// ClaimForSending conditionally transitions one entry from active to
	// sending. Returns ErrNotFound (treated as "not this runner's to claim")
	// when no row was active.
	ClaimForSending(ctx context.Context, entryID string) error

	// Release conditionally transitions one entry from sending back to
	// active. It is a no-op, not an error, if the entry has already moved on
	// to sent (e.g. a concurrent runner finished it first) -- the release
	// must never clobber a committed sent status.
	Release(ctx context.Context, entryID string) error

	// MarkSent conditionally transitions one entry from sending to sent,
	// stamping sent_at. Returns ErrNotFound if the row was not in sending
	// (the caller retries once on this).
	MarkSent(ctx context.Context, entryID string, sentAt time.Time) error

	// Delete removes the entry row. Used for destroy-type entries, for sent
	// entries aged out of the 30-day grace period, and for the active audio
	// entries purged on downgrade.
	Delete(ctx context.Context, entryID string) error

	// RecoverStaleLocks resets to active any entry stuck in sending with
	// updated_at older than olderThan, returning the count reset.
	RecoverStaleLocks(ctx context.Context, olderThan time.Time) (int, error)

	// ListActiveAudioByUser returns active entries with a non-null
	// audio_file_path for userID, used by the downgrade reverter's lifetime
	// audio purge.
	ListActiveAudioByUser(ctx context.Context, userID string) ([]*Entry, error)

	// ListSentOlderThanPage returns up to limit sent entries with
	// sent_at < olderThan, ordered by ascending id, for the sent-aged-out
	// sweep.
	ListSentOlderThanPage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Entry, error)

	// InsertTombstone inserts a tombstone, ignoring a duplicate-PK conflict
	// as a silent no-op.
	InsertTombstone(ctx context.Context, t Tombstone) error

	// CountAnyByUser counts every entry (any status) belonging to userID,
	// used to decide whether a profile has zero remaining entries.
	CountAnyByUser(ctx context.Context, userID string) (int, error)

	// CountTombstonesByUser counts tombstone rows belonging to userID, used
	// by the bot-cleanup sweep's "never had any history" check.
	CountTombstonesByUser(ctx context.Context, userID string) (int, error)
}
