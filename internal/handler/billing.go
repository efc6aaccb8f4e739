package handler

import (
	"context"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/ltgvault/internal/auth"
	"github.com/dukerupert/ltgvault/internal/config"
	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/metrics"
	"github.com/dukerupert/ltgvault/internal/store"
)

// Billing is the slice of the Stripe client the handlers use.
type Billing interface {
	Configured() bool
	CreateCustomer(ctx context.Context, email string, accountID int64) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, feature string) (string, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

var errBillingUnavailable = &apiError{
	Status:  http.StatusServiceUnavailable,
	Code:    "BILLING_UNAVAILABLE",
	Message: "Billing is not available right now.",
}

type BillingHandler struct {
	billing     Billing
	catalog     *config.Catalog
	accounts    *store.AccountStore
	credentials *store.CredentialStore
	activator   *Activator
	metrics     *metrics.Metrics
	baseURL     string
	logger      *slog.Logger
}

func NewBillingHandler(
	b Billing,
	catalog *config.Catalog,
	as *store.AccountStore,
	cs *store.CredentialStore,
	act *Activator,
	m *metrics.Metrics,
	baseURL string,
	logger *slog.Logger,
) *BillingHandler {
	return &BillingHandler{
		billing:     b,
		catalog:     catalog,
		accounts:    as,
		credentials: cs,
		activator:   act,
		metrics:     m,
		baseURL:     baseURL,
		logger:      logger,
	}
}

type checkoutRequest struct {
	Feature  string `json:"feature"`
	Interval string `json:"interval"`
}

// Checkout starts a Stripe subscription checkout for one feature.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())

	var req checkoutRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	f, err := feature.Parse(req.Feature)
	if err != nil {
		writeError(w, validationError("Unknown feature %q", req.Feature))
		return
	}

	prices := h.catalog.Prices(f)
	var priceID string
	switch req.Interval {
	case "", "monthly":
		priceID = prices.Monthly
	case "annual":
		priceID = prices.Annual
	default:
		writeError(w, validationError("Interval must be monthly or annual"))
		return
	}
	if priceID == "" {
		writeError(w, validationError("%s is not available for purchase yet", f.Title()))
		return
	}
	if acct.Subscribed(f) {
		writeError(w, &apiError{Status: http.StatusConflict, Code: "ALREADY_SUBSCRIBED", Message: "You already have " + f.Title() + " Pro."})
		return
	}
	if !h.billing.Configured() {
		writeError(w, errBillingUnavailable)
		return
	}

	customerID, apiErr := h.ensureCustomer(r.Context(), acct.ID, acct.Email, acct.StripeCustomerID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), customerID, priceID, string(f))
	if err != nil {
		h.logger.Error("create checkout session", "account_id", acct.ID, "feature", f, "error", err)
		writeError(w, errUpstream)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Portal opens the Stripe billing portal for the caller.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	if acct.StripeCustomerID == nil || *acct.StripeCustomerID == "" {
		writeError(w, validationError("No billing account yet. Start a checkout first."))
		return
	}
	if !h.billing.Configured() {
		writeError(w, errBillingUnavailable)
		return
	}

	url, err := h.billing.CreateBillingPortalSession(r.Context(), *acct.StripeCustomerID, h.baseURL)
	if err != nil {
		h.logger.Error("create portal session", "account_id", acct.ID, "error", err)
		writeError(w, errUpstream)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *BillingHandler) ensureCustomer(ctx context.Context, accountID int64, email string, existing *string) (string, *apiError) {
	if existing != nil && *existing != "" {
		return *existing, nil
	}
	customerID, err := h.billing.CreateCustomer(ctx, email, accountID)
	if err != nil {
		h.logger.Error("create stripe customer", "account_id", accountID, "error", err)
		return "", errUpstream
	}
	if err := h.accounts.UpdateStripeCustomerID(accountID, customerID); err != nil {
		h.logger.Error("save stripe customer", "account_id", accountID, "error", err)
		return "", errStore
	}
	return customerID, nil
}
