package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimExecution marks requestID as started. Only the first caller gets
// true; a claim is never released, so a request whose run was interrupted
// stays claimed.
func (s *Store) ClaimExecution(ctx context.Context, requestID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_claims (request_id, claimed_at)
		VALUES (?, ?)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim execution %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim execution %s: rows affected: %w", requestID, err)
	}
	return n == 1, nil
}
