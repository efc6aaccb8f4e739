package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
)

// RequestLogStore records every request admitted by the rate limiter,
// successful or not.
type RequestLogStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRequestLogStore(db *sql.DB) *RequestLogStore {
	return &RequestLogStore{db: db, now: time.Now}
}

func (s *RequestLogStore) Append(accountID int64, f feature.Feature, requestID string) error {
	_, err := s.db.Exec(
		`INSERT INTO request_log (account_id, feature, request_id, created_at_ms) VALUES (?, ?, ?, ?)`,
		accountID, string(f), requestID, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

func (s *RequestLogStore) CountSince(accountID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM request_log WHERE account_id = ? AND created_at_ms >= ?`,
		accountID, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count request log: %w", err)
	}
	return n, nil
}

func (s *RequestLogStore) CountInLastMinute(accountID int64) (int, error) {
	return s.CountSince(accountID, s.now().Add(-time.Minute))
}

// DeleteOlderThan prunes rows no window will ever count again.
func (s *RequestLogStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM request_log WHERE created_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune request log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
