// Package ratelimit bounds short bursts of metered requests per account.
package ratelimit

import (
	"log/slog"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
)

const (
	DefaultLimit = 10
	Window       = time.Minute
)

// RequestLog counts and records admitted requests.
type RequestLog interface {
	CountInLastMinute(accountID int64) (int, error)
	Append(accountID int64, f feature.Feature, requestID string) error
}

type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	ResetIn   int  `json:"resetIn"`

	// FailedOpen is set when the count could not be read and the request
	// was let through anyway.
	FailedOpen bool `json:"-"`
}

// Limiter is a fixed 60 second window over the request log.
type Limiter struct {
	log    RequestLog
	limit  int
	logger *slog.Logger
}

func New(log RequestLog, limit int, logger *slog.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{log: log, limit: limit, logger: logger}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Check admits or rejects one request. Count failures fail open.
func (l *Limiter) Check(accountID int64, f feature.Feature, requestID string) Result {
	resetIn := int(Window / time.Second)

	count, err := l.log.CountInLastMinute(accountID)
	if err != nil {
		l.logger.Warn("rate limit count failed, allowing request",
			"account_id", accountID, "feature", f, "error", err)
		return Result{Allowed: true, Remaining: l.limit, ResetIn: resetIn, FailedOpen: true}
	}

	if count >= l.limit {
		return Result{Allowed: false, Remaining: 0, ResetIn: resetIn}
	}

	if err := l.log.Append(accountID, f, requestID); err != nil {
		l.logger.Warn("append request log", "account_id", accountID, "feature", f, "error", err)
	}
	return Result{Allowed: true, Remaining: l.limit - count - 1, ResetIn: resetIn}
}
