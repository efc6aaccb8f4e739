package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
)

// UsageStore is the append-only ledger of successful metered actions.
// Timestamps are stored as epoch milliseconds.
type UsageStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db, now: time.Now}
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *UsageStore) Record(accountID int64, f feature.Feature, action, requestID string) error {
	return s.RecordAt(accountID, f, action, requestID, s.now())
}

func (s *UsageStore) RecordAt(accountID int64, f feature.Feature, action, requestID string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_events (account_id, feature, action, request_id, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		accountID, string(f), action, requestID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

func (s *UsageStore) CountLifetime(accountID int64, f feature.Feature) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM usage_events WHERE account_id = ? AND feature = ?`,
		accountID, string(f),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count lifetime usage: %w", err)
	}
	return n, nil
}

func (s *UsageStore) CountInCurrentMonth(accountID int64, f feature.Feature) (int, error) {
	return s.CountSince(accountID, f, MonthStart(s.now()))
}

func (s *UsageStore) CountSince(accountID int64, f feature.Feature, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM usage_events WHERE account_id = ? AND feature = ? AND created_at_ms >= ?`,
		accountID, string(f), since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage since: %w", err)
	}
	return n, nil
}

// CountInLastMinute counts events across all features in the trailing 60 seconds.
func (s *UsageStore) CountInLastMinute(accountID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM usage_events WHERE account_id = ? AND created_at_ms >= ?`,
		accountID, s.now().Add(-time.Minute).UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent usage: %w", err)
	}
	return n, nil
}

// Summary returns lifetime and current-month totals for every known feature.
func (s *UsageStore) Summary(accountID int64) ([]model.UsageTotal, error) {
	monthStart := MonthStart(s.now()).UnixMilli()
	rows, err := s.db.Query(
		`SELECT feature, COUNT(*), COALESCE(SUM(CASE WHEN created_at_ms >= ? THEN 1 ELSE 0 END), 0)
		FROM usage_events WHERE account_id = ? GROUP BY feature`,
		monthStart, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	byFeature := make(map[feature.Feature]model.UsageTotal)
	for rows.Next() {
		var name string
		var t model.UsageTotal
		if err := rows.Scan(&name, &t.Lifetime, &t.ThisMonth); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		t.Feature = feature.Feature(name)
		byFeature[t.Feature] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	totals := make([]model.UsageTotal, 0, len(feature.All))
	for _, f := range feature.All {
		t := byFeature[f]
		t.Feature = f
		totals = append(totals, t)
	}
	return totals, nil
}

// ListRecent returns the newest events for an account, newest first.
func (s *UsageStore) ListRecent(accountID int64, limit int) ([]model.UsageEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, feature, action, request_id, created_at_ms
		FROM usage_events WHERE account_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	var events []model.UsageEvent
	for rows.Next() {
		var e model.UsageEvent
		var name string
		var ms int64
		if err := rows.Scan(&e.ID, &e.AccountID, &name, &e.Action, &e.RequestID, &ms); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		e.Feature = feature.Feature(name)
		e.CreatedAt = time.UnixMilli(ms).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	return events, nil
}
