package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce an
// *Entry. Every method that scans into an Entry must select these columns in
// this exact order.
const selectColumns = `id, user_id, title, action_type, data_type, status, payload_encrypted,
	recipient_email_encrypted, data_key_encrypted, hmac_signature, audio_file_path, sent_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.UserID, &e.Title, &e.ActionType, &e.DataType, &e.Status, &e.PayloadEncrypted,
		&e.RecipientEmailEncrypted, &e.DataKeyEncrypted, &e.HMACSignature, &e.AudioFilePath, &e.SentAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan vault entry: %w", err)
	}
	return &e, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed vault entry repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vault entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActiveByUser returns every entry in {active, sending} belonging to userID.
func (r *PGRepository) ListActiveByUser(ctx context.Context, userID string) ([]*Entry, error) {
	return r.queryEntries(ctx,
		`SELECT `+selectColumns+` FROM vault_entries
		 WHERE user_id = $1 AND status IN ($2, $3)
		 ORDER BY id`,
		userID, StatusActive, StatusSending)
}

// CountPendingByUser counts entries still in {active, sending} for userID.
func (r *PGRepository) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM vault_entries WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, StatusActive, StatusSending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// ClaimForSending conditionally transitions one entry from active to sending.
func (r *PGRepository) ClaimForSending(ctx context.Context, entryID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE vault_entries SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		StatusSending, entryID, StatusActive)
	if err != nil {
		return fmt.Errorf("claim entry for sending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Release conditionally transitions one entry from sending back to active.
// It never overwrites an entry that has already committed to sent.
func (r *PGRepository) Release(ctx context.Context, entryID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE vault_entries SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		StatusActive, entryID, StatusSending)
	if err != nil {
		return fmt.Errorf("release entry: %w", err)
	}
	return nil
}

// MarkSent conditionally transitions one entry from sending to sent.
func (r *PGRepository) MarkSent(ctx context.Context, entryID string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE vault_entries SET status = $1, sent_at = $2, updated_at = now() WHERE id = $3 AND status = $4`,
		StatusSent, sentAt, entryID, StatusSending)
	if err != nil {
		return fmt.Errorf("mark entry sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the entry row.
func (r *PGRepository) Delete(ctx context.Context, entryID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM vault_entries WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("delete vault entry: %w", err)
	}
	return nil
}

// RecoverStaleLocks resets to active any entry stuck in sending with
// updated_at older than olderThan.
func (r *PGRepository) RecoverStaleLocks(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE vault_entries SET status = $1, updated_at = now() WHERE status = $2 AND updated_at < $3`,
		StatusActive, StatusSending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stale locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveAudioByUser returns active entries with a non-null
// audio_file_path for userID.
func (r *PGRepository) ListActiveAudioByUser(ctx context.Context, userID string) ([]*Entry, error) {
	return r.queryEntries(ctx,
		`SELECT `+selectColumns+` FROM vault_entries
		 WHERE user_id = $1 AND status = $2 AND audio_file_path IS NOT NULL
		 ORDER BY id`,
		userID, StatusActive)
}

// ListSentOlderThanPage returns up to limit sent entries with
// sent_at < olderThan, ordered by ascending id.
func (r *PGRepository) ListSentOlderThanPage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx,
		`SELECT `+selectColumns+` FROM vault_entries
		 WHERE status = $1 AND sent_at < $2 AND id > $3
		 ORDER BY id LIMIT $4`,
		StatusSent, olderThan, after, limit)
}

// InsertTombstone inserts a tombstone, ignoring a duplicate-PK conflict.
func (r *PGRepository) InsertTombstone(ctx context.Context, t Tombstone) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO vault_entry_tombstones (vault_entry_id, user_id, sender_name, sent_at, expired_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (vault_entry_id) DO NOTHING`,
		t.VaultEntryID, t.UserID, t.SenderName, t.SentAt, t.ExpiredAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert tombstone: %w", err)
	}
	return nil
}

// CountAnyByUser counts every entry (any status) belonging to userID.
func (r *PGRepository) CountAnyByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM vault_entries WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries by user: %w", err)
	}
	return n, nil
}

// CountTombstonesByUser counts tombstone rows belonging to userID.
func (r *PGRepository) CountTombstonesByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM vault_entry_tombstones WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tombstones by user: %w", err)
	}
	return n, nil
}
