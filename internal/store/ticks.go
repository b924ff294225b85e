package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimTick records that triggerID fired for boundary. It returns true only
// for the first caller; concurrent or repeated claims of the same boundary
// return false.
func (s *Store) ClaimTick(ctx context.Context, triggerID string, boundary, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_ticks (trigger_id, boundary, fired_at)
		VALUES (?, ?, ?)
		ON CONFLICT (trigger_id, boundary) DO NOTHING
	`, triggerID, boundary.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim tick %s: %w", triggerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim tick %s: rows affected: %w", triggerID, err)
	}
	return n == 1, nil
}

// LastTick returns the latest boundary fired for triggerID.
func (s *Store) LastTick(ctx context.Context, triggerID string) (time.Time, bool, error) {
	var boundary sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(boundary) FROM trigger_ticks WHERE trigger_id = ?`, triggerID).Scan(&boundary)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !boundary.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last tick %s: %w", triggerID, err)
	}
	return time.UnixMilli(boundary.Int64).UTC(), true, nil
}
