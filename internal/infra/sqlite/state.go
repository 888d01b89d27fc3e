package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

var _ domain.StateStore = (*DB)(nil)

// ─── Engine State ───────────────────────────────────────────────────────────

// Load returns the record stored under key.
func (d *DB) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Save replaces the record stored under key in a single statement.
func (d *DB) Save(ctx context.Context, key string, data []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO engine_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, data, time.Now().Unix(),
	)
	return err
}

// Keys lists stored keys with the given prefix in key order.
func (d *DB) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT key FROM engine_state WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
