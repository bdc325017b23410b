package pushdevice

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed push device repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// ListByUser returns every device token registered for userID.
func (r *PGRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, token FROM push_devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query push devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.UserID, &d.Token); err != nil {
			return nil, fmt.Errorf("scan push device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a device token row.
func (r *PGRepository) Delete(ctx context.Context, userID, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM push_devices WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return fmt.Errorf("delete push device: %w", err)
	}
	return nil
}
