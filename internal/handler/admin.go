package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
	"github.com/dukerupert/ltgvault/internal/store"
)

// AdminHandler serves operator endpoints behind the admin token.
type AdminHandler struct {
	accounts *store.AccountStore
	usage    *store.UsageStore
	logger   *slog.Logger
}

func NewAdminHandler(as *store.AccountStore, us *store.UsageStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: as, usage: us, logger: logger}
}

type planRequest struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
	Status      string   `json:"status"`
}

// SetPlan changes an account's feature subscriptions and status explicitly.
func (h *AdminHandler) SetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, validationError("Invalid account id"))
		return
	}

	var req planRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	changes := make(map[feature.Feature]bool)
	for _, name := range req.Subscribe {
		f, err := feature.Parse(name)
		if err != nil {
			writeError(w, validationError("Unknown feature %q", name))
			return
		}
		changes[f] = true
	}
	for _, name := range req.Unsubscribe {
		f, err := feature.Parse(name)
		if err != nil {
			writeError(w, validationError("Unknown feature %q", name))
			return
		}
		if changes[f] {
			writeError(w, validationError("Feature %q is both subscribed and unsubscribed", name))
			return
		}
		changes[f] = false
	}
	status := model.AccountStatus(req.Status)
	if req.Status != "" && !status.Valid() {
		writeError(w, validationError("Unknown status %q", req.Status))
		return
	}

	acct, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("admin get account", "account_id", id, "error", err)
		writeError(w, errStore)
		return
	}
	if acct == nil {
		writeError(w, notFound("Account not found"))
		return
	}

	for f, on := range changes {
		if err := h.accounts.SetSubscribed(id, f, on); err != nil {
			h.logger.Error("admin set subscription", "account_id", id, "feature", f, "error", err)
			writeError(w, errStore)
			return
		}
	}
	if req.Status != "" {
		if err := h.accounts.UpdateStatus(id, status); err != nil {
			h.logger.Error("admin set status", "account_id", id, "error", err)
			writeError(w, errStore)
			return
		}
	}

	acct, err = h.accounts.GetByID(id)
	if err != nil {
		writeError(w, errStore)
		return
	}
	h.logger.Info("plan changed by admin", "account_id", id, "subscribe", req.Subscribe, "unsubscribe", req.Unsubscribe, "status", req.Status)
	writeJSON(w, http.StatusOK, acct)
}

// Usage lists an account's totals and most recent events.
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, validationError("Invalid account id"))
		return
	}
	acct, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("admin get account", "account_id", id, "error", err)
		writeError(w, errStore)
		return
	}
	if acct == nil {
		writeError(w, notFound("Account not found"))
		return
	}

	totals, err := h.usage.Summary(id)
	if err != nil {
		h.logger.Error("admin usage summary", "account_id", id, "error", err)
		writeError(w, errStore)
		return
	}
	recent, err := h.usage.ListRecent(id, 50)
	if err != nil {
		h.logger.Error("admin recent usage", "account_id", id, "error", err)
		writeError(w, errStore)
		return
	}
	if recent == nil {
		recent = []model.UsageEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "usage": totals, "recent": recent})
}
