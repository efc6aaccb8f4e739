package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/ltgvault/internal/auth"
	"github.com/dukerupert/ltgvault/internal/entitlement"
	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/generate"
	"github.com/dukerupert/ltgvault/internal/model"
	"github.com/dukerupert/ltgvault/internal/store"
)

const (
	defaultTemplate = "classic"
	maxTitleRunes   = 200
)

type ResumeHandler struct {
	resumes   *store.ResumeStore
	evaluator *entitlement.Evaluator
	meter     *Meter
	generator *generate.Service
	logger    *slog.Logger
}

func NewResumeHandler(rs *store.ResumeStore, ev *entitlement.Evaluator, m *Meter, g *generate.Service, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{resumes: rs, evaluator: ev, meter: m, generator: g, logger: logger}
}

type resumeRequest struct {
	Title    string          `json:"title"`
	Template string          `json:"template"`
	Content  json.RawMessage `json:"content"`
}

// validate normalizes req. The template is checked against the caller's
// tier unless it is the one the resume already uses.
func (h *ResumeHandler) validate(acct *model.Account, req *resumeRequest, current string) *apiError {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return validationError("Title is required")
	}
	if utf8.RuneCountInString(req.Title) > maxTitleRunes {
		return validationError("Title must be at most %d characters", maxTitleRunes)
	}

	req.Template = strings.ToLower(strings.TrimSpace(req.Template))
	if req.Template == "" {
		req.Template = defaultTemplate
	}
	if req.Template != current {
		if !h.knownTemplate(req.Template) {
			return validationError("Unknown template %q", req.Template)
		}
		if !h.evaluator.TemplateAllowed(acct, feature.ResumeBuilder, req.Template) {
			return &apiError{
				Status:  http.StatusForbidden,
				Code:    "TEMPLATE_LOCKED",
				Message: "The " + req.Template + " template is available on " + feature.ResumeBuilder.Title() + " Pro.",
			}
		}
	}

	if len(req.Content) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(req.Content, &obj); err != nil {
			return validationError("Content must be a JSON object")
		}
	}
	return nil
}

// knownTemplate accepts any template some tier may use.
func (h *ResumeHandler) knownTemplate(name string) bool {
	p, ok := h.evaluator.Policy(feature.ResumeBuilder)
	if !ok || p.Resources == nil {
		return true
	}
	free, paid := p.Resources.Free.Templates, p.Resources.Paid.Templates
	if len(free) == 0 || len(paid) == 0 {
		return true
	}
	return slices.Contains(free, name) || slices.Contains(paid, name)
}

func (h *ResumeHandler) List(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	resumes, err := h.resumes.ListByAccount(acct.ID)
	if err != nil {
		h.logger.Error("list resumes", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	if resumes == nil {
		resumes = []model.Resume{}
	}

	capacity, err := h.evaluator.CheckResourceCap(acct, feature.ResumeBuilder, len(resumes))
	if err != nil {
		h.logger.Error("resume cap", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resumes": resumes,
		"usage":   newUsageInfo(len(resumes), capacity.Limit),
	})
}

func (h *ResumeHandler) Create(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())

	var req resumeRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := h.validate(acct, &req, ""); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	owned, err := h.resumes.CountByAccount(acct.ID)
	if err != nil {
		h.logger.Error("count resumes", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	d, err := h.evaluator.CheckResourceCap(acct, feature.ResumeBuilder, owned)
	if err != nil {
		h.logger.Error("resume cap", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	if !d.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":   "RESOURCE_LIMIT",
			"message": d.Message,
			"usage":   map[string]int{"used": d.Used, "limit": d.Limit},
		})
		return
	}

	resume, err := h.resumes.Create(acct.ID, req.Title, req.Template, req.Content)
	if err != nil {
		h.logger.Error("create resume", "account_id", acct.ID, "error", err)
		writeError(w, errStore)
		return
	}
	writeJSON(w, http.StatusCreated, resume)
}

func (h *ResumeHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	resume, ok := h.load(w, r, acct.ID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resume)
}

func (h *ResumeHandler) Update(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	existing, ok := h.load(w, r, acct.ID)
	if !ok {
		return
	}

	var req resumeRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.Title == "" {
		req.Title = existing.Title
	}
	if req.Template == "" {
		req.Template = existing.Template
	}
	if len(req.Content) == 0 {
		req.Content = existing.Content
	}
	if apiErr := h.validate(acct, &req, existing.Template); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	resume, err := h.resumes.Update(acct.ID, existing.ID, req.Title, req.Template, req.Content)
	if err != nil {
		h.logger.Error("update resume", "account_id", acct.ID, "resume_id", existing.ID, "error", err)
		writeError(w, errStore)
		return
	}
	if resume == nil {
		writeError(w, notFound("Resume not found"))
		return
	}
	writeJSON(w, http.StatusOK, resume)
}

func (h *ResumeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, validationError("Invalid resume id"))
		return
	}
	deleted, err := h.resumes.Delete(acct.ID, id)
	if err != nil {
		h.logger.Error("delete resume", "account_id", acct.ID, "resume_id", id, "error", err)
		writeError(w, errStore)
		return
	}
	if !deleted {
		writeError(w, notFound("Resume not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Improve rewrites bullets for one of the caller's resumes as a metered action.
func (h *ResumeHandler) Improve(w http.ResponseWriter, r *http.Request) {
	acct := auth.Account(r.Context())
	resume, ok := h.load(w, r, acct.ID)
	if !ok {
		return
	}

	var in generate.ImproveInput
	if apiErr := decodeJSON(w, r, &in); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if strings.TrimSpace(in.Role) == "" {
		in.Role = resume.Title
	}

	h.meter.Run(w, r, feature.ResumeBuilder, actionFor(feature.ResumeBuilder), func(ctx context.Context) (any, error) {
		return h.generator.Improve(ctx, in)
	})
}

func (h *ResumeHandler) load(w http.ResponseWriter, r *http.Request, accountID int64) (*model.Resume, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, validationError("Invalid resume id"))
		return nil, false
	}
	resume, err := h.resumes.GetByID(accountID, id)
	if err != nil {
		h.logger.Error("get resume", "account_id", accountID, "resume_id", id, "error", err)
		writeError(w, errStore)
		return nil, false
	}
	if resume == nil {
		writeError(w, notFound("Resume not found"))
		return nil, false
	}
	return resume, true
}
