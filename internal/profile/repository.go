package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a
// *Profile. Every method that scans into a Profile must select these columns
// in this exact order.
const selectColumns = `id, email, sender_name, status, subscription_status, last_check_in, timer_days,
	hmac_key_encrypted, warning_sent_at, push_66_sent_at, push_33_sent_at, protocol_executed_at,
	had_vault_activity, selected_theme, selected_soul_fire, created_at`

// scanProfile scans a single row into a *Profile. The row must contain the
// columns listed in selectColumns.
func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID, &p.Email, &p.SenderName, &p.Status, &p.SubscriptionStatus, &p.LastCheckIn, &p.TimerDays,
		&p.HMACKeyEncrypted, &p.WarningSentAt, &p.Push66SentAt, &p.Push33SentAt, &p.ProtocolExecutedAt,
		&p.HadVaultActivity, &p.SelectedTheme, &p.SelectedSoulFire, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed profile repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetByID returns the profile matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query profile by id: %w", err)
	}
	return p, nil
}

func (r *PGRepository) listPage(ctx context.Context, query string, args ...any) ([]*Profile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profile page: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListExpiredActivePage returns up to limit active profiles with id > after,
// ordered by ascending id.
func (r *PGRepository) ListExpiredActivePage(ctx context.Context, after string, limit int) ([]*Profile, error) {
	return r.listPage(ctx,
		`SELECT `+selectColumns+` FROM profiles
		 WHERE status = $1 AND id > $2
		 ORDER BY id LIMIT $3`,
		StatusActive, after, limit)
}

// ListFreeSubscribersPage returns up to limit profiles on the free tier,
// ordered by ascending id.
func (r *PGRepository) ListFreeSubscribersPage(ctx context.Context, after string, limit int) ([]*Profile, error) {
	return r.listPage(ctx,
		`SELECT `+selectColumns+` FROM profiles
		 WHERE subscription_status = 'free' AND id > $1
		 ORDER BY id LIMIT $2`,
		after, limit)
}

// ListInactiveWithExpiredGracePage returns up to limit inactive profiles
// whose protocol_executed_at is older than olderThan, ordered by ascending id.
func (r *PGRepository) ListInactiveWithExpiredGracePage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Profile, error) {
	return r.listPage(ctx,
		`SELECT `+selectColumns+` FROM profiles
		 WHERE status = $1 AND protocol_executed_at IS NOT NULL AND protocol_executed_at < $2 AND id > $3
		 ORDER BY id LIMIT $4`,
		StatusInactive, olderThan, after, limit)
}

// ListStaleActivePage returns up to limit active profiles created before
// olderThan, ordered by ascending id.
func (r *PGRepository) ListStaleActivePage(ctx context.Context, olderThan time.Time, after string, limit int) ([]*Profile, error) {
	return r.listPage(ctx,
		`SELECT `+selectColumns+` FROM profiles
		 WHERE status = $1 AND created_at < $2 AND id > $3
		 ORDER BY id LIMIT $4`,
		StatusActive, olderThan, after, limit)
}

// MarkWarningSent stamps warning_sent_at = sentAt for id.
func (r *PGRepository) MarkWarningSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE profiles SET warning_sent_at = $1 WHERE id = $2`, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark warning sent: %w", err)
	}
	return nil
}

// MarkPush66Sent stamps push_66_sent_at = sentAt for id.
func (r *PGRepository) MarkPush66Sent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE profiles SET push_66_sent_at = $1 WHERE id = $2`, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark push 66 sent: %w", err)
	}
	return nil
}

// MarkPush33Sent stamps push_33_sent_at = sentAt for id.
func (r *PGRepository) MarkPush33Sent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE profiles SET push_33_sent_at = $1 WHERE id = $2`, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark push 33 sent: %w", err)
	}
	return nil
}

// SetInactiveGrace begins the 30-day grace period after a successful send.
func (r *PGRepository) SetInactiveGrace(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			status = $1, timer_days = 30, protocol_executed_at = $2,
			warning_sent_at = NULL, push_66_sent_at = NULL, push_33_sent_at = NULL,
			had_vault_activity = true
		 WHERE id = $3`,
		StatusInactive, now, id)
	if err != nil {
		return fmt.Errorf("set inactive grace: %w", err)
	}
	return nil
}

// ResetFreshActive resets a profile to fresh-active.
func (r *PGRepository) ResetFreshActive(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			status = $1, timer_days = 30, last_check_in = $2, protocol_executed_at = NULL,
			warning_sent_at = NULL, push_66_sent_at = NULL, push_33_sent_at = NULL,
			had_vault_activity = true
		 WHERE id = $3`,
		StatusActive, now, id)
	if err != nil {
		return fmt.Errorf("reset fresh active: %w", err)
	}
	return nil
}

// MarkHadVaultActivity sets had_vault_activity = true for id.
func (r *PGRepository) MarkHadVaultActivity(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE profiles SET had_vault_activity = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark had vault activity: %w", err)
	}
	return nil
}

// ApplyDowngradeReset reverts paid-tier artifacts on a downgraded profile.
func (r *PGRepository) ApplyDowngradeReset(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			timer_days = 30, last_check_in = $1,
			warning_sent_at = NULL, push_66_sent_at = NULL, push_33_sent_at = NULL,
			selected_theme = NULL, selected_soul_fire = NULL
		 WHERE id = $2`,
		now, id)
	if err != nil {
		return fmt.Errorf("apply downgrade reset: %w", err)
	}
	return nil
}

// DeleteUser deletes the auth user owning id. Implemented as a delete against
// the profiles row; the external schema cascades to push_devices and,
// through Postgres foreign keys, to any remaining vault_entries.
func (r *PGRepository) DeleteUser(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("delete user %s: has dependent rows: %w", id, err)
		}
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
