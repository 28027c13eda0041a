package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const maxAlertLimit = 500

// Store is the storage surface used by the API.
type Store interface {
	domain.AlertStore
	domain.ComplianceStore
	Ping(ctx context.Context) error
}

// AnalysisRunner runs batch analysis on demand.
type AnalysisRunner interface {
	Run(ctx context.Context, asOf time.Time) (*analysis.Report, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	store     Store
	cache     domain.Cache
	admission *admission.Service
	runner    AnalysisRunner
	engine    *rules.Engine
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(store Store, cache domain.Cache, admissionSvc *admission.Service, runner AnalysisRunner, engine *rules.Engine, version string) *Handler {
	return &Handler{
		store:     store,
		cache:     cache,
		admission: admissionSvc,
		runner:    runner,
		engine:    engine,
		version:   version,
	}
}

// RejectionResponse is the body of a refused transfer.
type RejectionResponse struct {
	Error      string             `json:"error"`
	Code       string             `json:"code"`
	FraudCheck *domain.FraudCheck `json:"fraud_check,omitempty"`
}

// ActionRequest is the optional body of compliance actions.
type ActionRequest struct {
	Reason string `json:"reason"`
}

// CreateTransfer handles POST /transfers.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req admission.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RejectionResponse{
			Error: "invalid JSON request body",
			Code:  admission.CodeValidation,
		})
		return
	}

	decision, err := h.admission.Admit(r.Context(), req)
	if err != nil {
		if rej, ok := admission.AsRejection(err); ok {
			writeJSON(w, rejectionStatus(rej.Code), RejectionResponse{
				Error:      rej.Reason,
				Code:       rej.Code,
				FraudCheck: rej.FraudCheck,
			})
			return
		}
		slog.Error("transfer admission failed", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, decision)
}

func rejectionStatus(code string) int {
	switch code {
	case admission.CodeNotFound:
		return http.StatusNotFound
	case admission.CodeBlockedClient, admission.CodeAccountInactive:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// RunAnalysis handles POST /analysis/runs. The optional as_of query
// parameter is an RFC 3339 time; it defaults to now.
func (h *Handler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "as_of must be an RFC 3339 time",
			})
			return
		}
		asOf = t
	}

	report, err := h.runner.Run(r.Context(), asOf)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "an analysis run is already in progress",
			})
			return
		}
		slog.Error("analysis run failed", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{Severity: domain.Severity(q.Get("severity"))}

	switch filter.Severity {
	case "", domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be one of low, medium, high, critical",
		})
		return
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxAlertLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and 500",
			})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// BlockAccount handles POST /accounts/{id}/block.
func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := decodeReason(r)

	if err := h.store.BlockAccount(r.Context(), id, reason); err != nil {
		slog.Error("failed to block account", "account_id", id, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("account blocked", "account_id", id, "reason", reason)
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": id,
		"status":     "blocked",
	})
}

// FlagTransaction handles POST /transactions/{id}/flag.
func (h *Handler) FlagTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := decodeReason(r)

	if err := h.store.FlagTransaction(r.Context(), id, reason); err != nil {
		slog.Error("failed to flag transaction", "transaction_id", id, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("transaction flagged", "transaction_id", id, "reason", reason)
	writeJSON(w, http.StatusOK, map[string]string{
		"transaction_id": id,
		"status":         "flagged",
	})
}

// decodeReason reads an optional ActionRequest body.
func decodeReason(r *http.Request) string {
	var req ActionRequest
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Reason
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		slog.Error("failed to load stats", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns the admission rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// ValidateRule handles POST /rules/validate. It compiles the posted rule
// without loading it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if cfg.ID == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}

	if err := h.engine.ValidateRule(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
	})
}

// ReloadRequest is the optional body of POST /rules/reload.
type ReloadRequest struct {
	Rules []*domain.RuleConfig `json:"rules"`
}

// ReloadRules handles POST /rules/reload. Posted rules replace the loaded
// set; an empty body restores the built-in admission rules. A rule that
// fails to compile leaves the loaded set unchanged.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	configs := rules.AdmissionRules()
	if r.Body != nil && r.ContentLength != 0 {
		var req ReloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
		if len(req.Rules) > 0 {
			configs = req.Rules
		}
	}

	if err := h.engine.ReloadRules(configs); err != nil {
		slog.Warn("rule reload rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.engine.RulesCount()
	slog.Info("admission rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// writeError maps a domain error to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStorageUnavailable):
		status, msg = http.StatusServiceUnavailable, "storage unavailable"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
