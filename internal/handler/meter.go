package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/ltgvault/internal/auth"
	"github.com/dukerupert/ltgvault/internal/entitlement"
	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/generate"
	"github.com/dukerupert/ltgvault/internal/llm"
	"github.com/dukerupert/ltgvault/internal/metrics"
	"github.com/dukerupert/ltgvault/internal/ratelimit"
	"github.com/dukerupert/ltgvault/internal/store"
	"github.com/dukerupert/ltgvault/internal/websocket"
)

// Publisher fans usage updates out to live clients.
type Publisher interface {
	Publish(accountID int64, msg any)
}

type usageInfo struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func newUsageInfo(used, limit int) usageInfo {
	remaining := -1
	if limit >= 0 {
		remaining = max(limit-used, 0)
	}
	return usageInfo{Used: used, Limit: limit, Remaining: remaining}
}

type meteredResponse struct {
	Result    any              `json:"result"`
	Usage     usageInfo        `json:"usage"`
	RateLimit ratelimit.Result `json:"rateLimit"`
}

// Meter runs one metered action: rate limit, entitlement, work, usage
// record, broadcast. Each step runs only if the previous one allowed it.
type Meter struct {
	evaluator *entitlement.Evaluator
	limiter   *ratelimit.Limiter
	usage     *store.UsageStore
	hub       Publisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewMeter(
	ev *entitlement.Evaluator,
	rl *ratelimit.Limiter,
	us *store.UsageStore,
	hub Publisher,
	m *metrics.Metrics,
	timeout time.Duration,
	logger *slog.Logger,
) *Meter {
	return &Meter{
		evaluator: ev,
		limiter:   rl,
		usage:     us,
		hub:       hub,
		metrics:   m,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes work for the authenticated account and writes the response.
func (m *Meter) Run(w http.ResponseWriter, r *http.Request, f feature.Feature, action string, work func(ctx context.Context) (any, error)) {
	acct := auth.Account(r.Context())
	if acct == nil {
		writeError(w, errUnauthorized)
		return
	}
	requestID := auth.RequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := m.logger.With("account_id", acct.ID, "feature", f, "request_id", requestID)

	rl := m.limiter.Check(acct.ID, f, requestID)
	m.metrics.RecordRateLimit(string(f), rl.Allowed, rl.FailedOpen)
	if !rl.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "RATE_LIMITED",
			"message":   "Too many requests. Please wait a minute and try again.",
			"rateLimit": map[string]int{"remaining": rl.Remaining, "resetIn": rl.ResetIn},
		})
		return
	}

	d, err := m.evaluator.Evaluate(acct.ID, f)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrUnknownFeature):
			writeError(w, notFound("Unknown tool"))
		case errors.Is(err, entitlement.ErrAccountNotFound):
			writeError(w, errUnauthorized)
		default:
			logger.Error("evaluate entitlement", "error", err)
			writeError(w, errStore)
		}
		return
	}
	m.metrics.RecordDecision(string(f), string(d.Tier), d.Allowed)
	if !d.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":   "LIMIT_EXCEEDED",
			"message": d.Message,
			"usage":   map[string]int{"used": d.Used, "limit": d.Limit},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
	defer cancel()

	start := time.Now()
	result, err := work(ctx)
	if err != nil {
		apiErr, outcome := m.workError(logger, err)
		m.metrics.RecordGeneration(string(f), outcome, time.Since(start))
		writeError(w, apiErr)
		return
	}
	m.metrics.RecordGeneration(string(f), "ok", time.Since(start))

	used := d.Used + 1
	if err := m.usage.Record(acct.ID, f, action, requestID); err != nil {
		logger.Error("record usage", "error", err)
		m.metrics.RecordUsageError(string(f))
	} else if m.hub != nil {
		m.hub.Publish(acct.ID, websocket.NewUsageUpdate(string(f), action, string(d.Tier), used, d.Limit, m.now()))
	}

	writeJSON(w, http.StatusOK, meteredResponse{
		Result:    result,
		Usage:     newUsageInfo(used, d.Limit),
		RateLimit: rl,
	})
}

func (m *Meter) workError(logger *slog.Logger, err error) (*apiError, string) {
	var inputErr *generate.InputError
	var apiErr *apiError
	var llmErr *llm.Error
	switch {
	case errors.As(err, &inputErr):
		return validationError("%s", inputErr.Message), "invalid"
	case errors.As(err, &apiErr):
		return apiErr, "rejected"
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("generation timed out", "error", err)
		return errUpstreamTimeout, "timeout"
	case errors.As(err, &llmErr):
		logger.Warn("llm provider error", "status", llmErr.StatusCode, "body", llmErr.Body)
		return errUpstream, "upstream_error"
	case errors.Is(err, llm.ErrBadResponse), errors.Is(err, generate.ErrBadOutput):
		logger.Warn("unusable model output", "error", err)
		return errUpstream, "bad_output"
	default:
		logger.Error("generation failed", "error", err)
		return errInternal, "error"
	}
}
