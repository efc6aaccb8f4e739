package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/ltgvault/internal/config"
	"github.com/dukerupert/ltgvault/internal/entitlement"
	"github.com/dukerupert/ltgvault/internal/generate"
	"github.com/dukerupert/ltgvault/internal/handler"
	"github.com/dukerupert/ltgvault/internal/llm"
	"github.com/dukerupert/ltgvault/internal/metrics"
	"github.com/dukerupert/ltgvault/internal/middleware"
	"github.com/dukerupert/ltgvault/internal/ratelimit"
	"github.com/dukerupert/ltgvault/internal/store"
	"github.com/dukerupert/ltgvault/internal/token"
	ws "github.com/dukerupert/ltgvault/internal/websocket"
)

// Public auth endpoints allow this many requests per IP per minute.
const publicBurst = 10

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	metrics     *metrics.Metrics
	credentials *store.CredentialStore
	requestLog  *store.RequestLogStore
	throttle    *middleware.Throttle
	adminToken  string

	toolH    *handler.ToolHandler
	keyH     *handler.KeyHandler
	resumeH  *handler.ResumeHandler
	billingH *handler.BillingHandler
	adminH   *handler.AdminHandler
	healthH  *handler.HealthHandler

	logger *slog.Logger
}

func New(
	db *sql.DB,
	cfg *config.Config,
	catalog *config.Catalog,
	signer *token.Signer,
	completer llm.Completer,
	mailer handler.Mailer,
	billing handler.Billing,
	logger *slog.Logger,
) *Server {
	m := metrics.New()
	hub := ws.NewHub(logger.With("component", "websocket"), m)

	accountStore := store.NewAccountStore(db)
	credentialStore := store.NewCredentialStore(db)
	usageStore := store.NewUsageStore(db)
	requestLogStore := store.NewRequestLogStore(db)
	resumeStore := store.NewResumeStore(db)

	evaluator := entitlement.NewEvaluator(catalog.Policies(), accountStore, usageStore, nil)
	limiter := ratelimit.New(requestLogStore, cfg.RateLimit, logger.With("component", "ratelimit"))
	meter := handler.NewMeter(evaluator, limiter, usageStore, hub, m, cfg.LLM.Timeout, logger.With("component", "meter"))
	generator := generate.NewService(completer, catalog)
	activator := handler.NewActivator(signer, mailer, cfg.AccessTokenTTL, logger.With("component", "activation"))

	return &Server{
		db:          db,
		hub:         hub,
		metrics:     m,
		credentials: credentialStore,
		requestLog:  requestLogStore,
		throttle:    middleware.NewThrottle(publicBurst, time.Minute),
		adminToken:  cfg.AdminToken,
		toolH:       handler.NewToolHandler(meter, generator),
		keyH:        handler.NewKeyHandler(accountStore, credentialStore, usageStore, evaluator, activator, limiter.Limit(), logger.With("component", "keys")),
		resumeH:     handler.NewResumeHandler(resumeStore, evaluator, meter, generator, logger.With("component", "resume")),
		billingH:    handler.NewBillingHandler(billing, catalog, accountStore, credentialStore, activator, m, cfg.BaseURL, logger.With("component", "billing")),
		adminH:      handler.NewAdminHandler(accountStore, usageStore, logger.With("component", "admin")),
		healthH:     handler.NewHealthHandler(db, logger.With("component", "health")),
		logger:      logger,
	}
}

// Throttle returns the public endpoint throttle for cleanup tasks.
func (s *Server) Throttle() *middleware.Throttle {
	return s.throttle
}

// RequestLog returns the rate limiter's request log for pruning.
func (s *Server) RequestLog() *store.RequestLogStore {
	return s.requestLog
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no API key required)
	outerMux.HandleFunc("GET /health", s.healthH.Health)
	outerMux.Handle("GET /metrics", s.metrics.Handler())
	outerMux.HandleFunc("GET /activate", s.keyH.ActivatePage)
	outerMux.HandleFunc("POST /api/signup", s.throttled(s.keyH.Signup))
	outerMux.HandleFunc("POST /api/auth/magic-link", s.throttled(s.keyH.MagicLink))
	outerMux.HandleFunc("POST /api/auth/activate", s.throttled(s.keyH.Activate))
	outerMux.HandleFunc("POST /webhooks/stripe", s.billingH.StripeWebhook)
	outerMux.HandleFunc("GET /ws/usage", ws.HandleUsageFeed(s.hub, s.authenticateFeed, s.logger.With("component", "usage_feed")))

	admin := middleware.RequireAdminToken(s.adminToken)
	outerMux.Handle("POST /api/admin/accounts/{id}/plan", admin(http.HandlerFunc(s.adminH.SetPlan)))
	outerMux.Handle("GET /api/admin/accounts/{id}/usage", admin(http.HandlerFunc(s.adminH.Usage)))

	// Protected routes, wrapped with RequireAPIKey
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	keyMiddleware := middleware.RequireAPIKey(s.credentials, s.logger.With("component", "auth"))
	outerMux.Handle("/api/", keyMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) throttled(h http.HandlerFunc) http.HandlerFunc {
	return middleware.RateLimit(s.throttle, middleware.RealIP)(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", s.keyH.Me)
	mux.HandleFunc("POST /api/keys/rotate", s.keyH.Rotate)

	mux.HandleFunc("POST /api/{tool}/generate", s.toolH.Generate)

	mux.HandleFunc("GET /api/resumes", s.resumeH.List)
	mux.HandleFunc("POST /api/resumes", s.resumeH.Create)
	mux.HandleFunc("GET /api/resumes/{id}", s.resumeH.Get)
	mux.HandleFunc("PUT /api/resumes/{id}", s.resumeH.Update)
	mux.HandleFunc("DELETE /api/resumes/{id}", s.resumeH.Delete)
	mux.HandleFunc("POST /api/resumes/{id}/improve", s.resumeH.Improve)

	mux.HandleFunc("POST /api/billing/checkout", s.billingH.Checkout)
	mux.HandleFunc("POST /api/billing/portal", s.billingH.Portal)
}

// authenticateFeed accepts the key as a header or, for browsers that cannot
// set headers on upgrades, as the api_key query parameter.
func (s *Server) authenticateFeed(r *http.Request) (int64, bool, error) {
	secret := middleware.APIKey(r)
	if secret == "" {
		secret = r.URL.Query().Get("api_key")
	}
	if secret == "" {
		return 0, false, nil
	}
	acct, err := s.credentials.Resolve(secret)
	if err != nil {
		return 0, false, err
	}
	if acct == nil {
		return 0, false, nil
	}
	return acct.ID, true, nil
}
