package handler

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"net/mail"
	"strings"

	"github.com/dukerupert/ltgvault/internal/auth"
	"github.com/dukerupert/ltgvault/internal/email"
	"github.com/dukerupert/ltgvault/internal/entitlement"
	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
	"github.com/dukerupert/ltgvault/internal/store"
	"github.com/dukerupert/ltgvault/internal/token"
)

//go:embed templates/*.html
var templateFS embed.FS

type KeyHandler struct {
	accounts    *store.AccountStore
	credentials *store.CredentialStore
	usage       *store.UsageStore
	evaluator   *entitlement.Evaluator
	activator   *Activator
	rateLimit   int
	templates   *template.Template
	logger      *slog.Logger
}

func NewKeyHandler(
	as *store.AccountStore,
	cs *store.CredentialStore,
	us *store.UsageStore,
	ev *entitlement.Evaluator,
	act *Activator,
	rateLimit int,
	logger *slog.Logger,
) *KeyHandler {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	return &KeyHandler{
		accounts:    as,
		credentials: cs,
		usage:       us,
		evaluator:   ev,
		activator:   act,
		rateLimit:   rateLimit,
		templates:   tmpl,
		logger:      logger,
	}
}

type emailRequest struct {
	Email string `json:"email"`
}

// keyResponse carries a plaintext key. It is the only time the key is shown.
type keyResponse struct {
	APIKey     string            `json:"api_key"`
	Credential *model.Credential `json:"credential"`
	Account    *model.Account    `json:"account,omitempty"`
}

func parseEmail(raw string) (string, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationError("Email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || strings.Contains(raw, ":") {
		return "", validationError("Enter a valid email address")
	}
	return store.NormalizeEmail(raw), nil
}

// Signup creates an account and its first key. An email that already has
// an account gets a sign-in link instead.
func (h *KeyHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	addr, apiErr := parseEmail(req.Email)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	existing, err := h.accounts.GetByEmail(addr)
	if err != nil {
		h.logger.Error("signup lookup", "error", err)
		writeError(w, errStore)
		return
	}
	if existing != nil {
		h.signupExisting(w, r, existing)
		return
	}

	acct, err := h.accounts.Create(addr)
	if err != nil {
		// A concurrent signup may have created the account first.
		if existing, lookupErr := h.accounts.GetByEmail(addr); lookupErr == nil && existing != nil {
			h.signupExisting(w, r, existing)
			return
		}
		h.logger.Error("signup create account", "error", err)
		writeError(w, errStore)
		return
	}
	if err := h.accounts.UpdateStatus(acct.ID, model.StatusActive); err != nil {
		h.logger.Error("signup activate account", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	acct.Status = model.StatusActive

	key, cred, err := h.credentials.Issue(acct.ID)
	if err != nil {
		h.logger.Error("signup issue key", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}

	h.logger.Info("account created", "account_id", acct.ID)
	writeJSON(w, http.StatusCreated, keyResponse{APIKey: key, Credential: cred, Account: acct})
}

func (h *KeyHandler) signupExisting(w http.ResponseWriter, r *http.Request, acct *model.Account) {
	if err := h.activator.Send(r.Context(), acct, email.PurposeSignIn); err != nil {
		h.logger.Error("signup send link", "account_id", acct.ID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "check_email",
		"message": "This email already has an account. We sent you a sign-in link.",
	})
}

// MagicLink emails a sign-in link. The response never reveals whether the
// email has an account.
func (h *KeyHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	addr, apiErr := parseEmail(req.Email)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	defer writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "check_email",
		"message": "If that email has an account, a sign-in link is on its way.",
	})

	acct, err := h.accounts.GetByEmail(addr)
	if err != nil {
		h.logger.Error("magic link lookup", "error", err)
		return
	}
	if acct == nil {
		return
	}
	if err := h.activator.Send(r.Context(), acct, email.PurposeSignIn); err != nil {
		h.logger.Error("magic link send", "account_id", acct.ID, "error", err)
	}
}

// ActivatePage renders the landing page for emailed links. Issuing the key
// waits for the POST so link scanners cannot rotate it.
func (h *KeyHandler) ActivatePage(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	data := map[string]any{"Token": tok}
	if tok == "" {
		data["Error"] = "This link is missing its token."
	}
	h.renderActivate(w, http.StatusOK, data)
}

// Activate exchanges an access token for a fresh key, revoking any other.
func (h *KeyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	fromForm := isFormPost(r)

	tok := r.URL.Query().Get("token")
	if fromForm {
		if v := r.PostFormValue("token"); v != "" {
			tok = v
		}
	} else if r.ContentLength != 0 {
		var body struct {
			Token string `json:"token"`
		}
		if apiErr := decodeJSON(w, r, &body); apiErr != nil {
			writeError(w, apiErr)
			return
		}
		if body.Token != "" {
			tok = body.Token
		}
	}

	fail := func(apiErr *apiError) {
		if fromForm {
			h.renderActivate(w, apiErr.Status, map[string]any{"Error": apiErr.Message})
			return
		}
		writeError(w, apiErr)
	}

	tok = strings.TrimSpace(tok)
	if tok == "" {
		fail(validationError("Activation token is required"))
		return
	}

	claims, err := h.activator.Redeem(tok)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			fail(validationError("This link has expired. Request a new one."))
		} else {
			fail(validationError("This link is not valid. Request a new one."))
		}
		return
	}

	acct, err := h.accounts.GetByID(claims.AccountID)
	if err != nil {
		h.logger.Error("activate lookup", "account_id", claims.AccountID, "error", err)
		fail(errStore)
		return
	}
	if acct == nil || acct.Email != store.NormalizeEmail(claims.Email) {
		fail(validationError("This link is not valid. Request a new one."))
		return
	}

	key, cred, err := h.credentials.Issue(acct.ID)
	if err != nil {
		h.logger.Error("activate issue key", "account_id", acct.ID, "error", err)
		fail(errStore)
		return
	}

	h.logger.Info("api key issued by activation", "account_id", acct.ID)
	if fromForm {
		h.renderActivate(w, http.StatusOK, map[string]any{"APIKey": key, "Email": acct.Email})
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{APIKey: key, Credential: cred, Account: acct})
}

// Rotate issues a new key for the caller. The presented key stops working.
func (h *KeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	key, cred, err := h.credentials.Issue(acct.ID)
	if err != nil {
		h.logger.Error("rotate key", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	h.logger.Info("api key rotated", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, keyResponse{APIKey: key, Credential: cred})
}

type meResponse struct {
	Account      *model.Account         `json:"account"`
	Credential   *model.Credential      `json:"credential,omitempty"`
	Entitlements []entitlement.Decision `json:"entitlements"`
	Usage        []model.UsageTotal     `json:"usage"`
	RateLimit    map[string]int         `json:"rateLimit"`
}

// Me returns the caller's account, key display fields and per-feature
// entitlement and usage.
func (h *KeyHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())

	creds, err := h.credentials.ListActive(acct.ID)
	if err != nil {
		h.logger.Error("me list credentials", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}

	resp := meResponse{
		Account:   acct,
		RateLimit: map[string]int{"limit": h.rateLimit, "window": 60},
	}
	if len(creds) > 0 {
		resp.Credential = &creds[0]
	}

	for _, f := range feature.All {
		d, err := h.evaluator.Evaluate(acct.ID, f)
		if err != nil {
			h.logger.Error("me evaluate", "account_id", acct.ID, "feature", f, "error", err)
			writeError(w, errStore)
			return
		}
		resp.Entitlements = append(resp.Entitlements, d)
	}

	resp.Usage, err = h.usage.Summary(acct.ID)
	if err != nil {
		h.logger.Error("me usage summary", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *KeyHandler) renderActivate(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, "activate", data); err != nil {
		h.logger.Error("render activate page", "error", err)
	}
}

func isFormPost(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded"
}
