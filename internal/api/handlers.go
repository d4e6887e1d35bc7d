package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
	"repo-sentinel/internal/pipeline"
)

// Handlers exposes the analysis pipeline over HTTP.
type Handlers struct {
	ctrl *pipeline.Controller
}

// NewHandlers wraps the controller.
func NewHandlers(ctrl *pipeline.Controller) *Handlers {
	return &Handlers{ctrl: ctrl}
}

// HandleAnalyze accepts a repository submission.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.RepoURL == "" {
		writeError(w, "repo_url is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Category == "" {
		writeError(w, "category is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	job, err := h.ctrl.StartAnalysis(r.Context(), req.RepoURL, req.Category)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidInput):
			writeError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, r)
		case errors.Is(err, pipeline.ErrShuttingDown):
			writeError(w, "service is shutting down", "UNAVAILABLE", http.StatusServiceUnavailable, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("submission failed")
			writeError(w, "submission failed", "INTERNAL", http.StatusInternalServerError, r)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, AnalyzeResponse{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// HandleStatus returns the reduced view of one job.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "analysis ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	sum, err := h.ctrl.GetStatus(r.Context(), id)
	if err != nil {
		writeNotFoundOrInternal(w, r, err)
		return
	}
	job, err := h.ctrl.GetDetails(r.Context(), id)
	if err != nil {
		writeNotFoundOrInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ID:        sum.ID,
		RepoURL:   sum.RepoURL,
		Category:  sum.Category,
		Status:    sum.Status,
		Progress:  job.Progress,
		RiskScore: sum.RiskScore,
		RiskLevel: sum.RiskLevel,
	})
}

// HandleDetails returns the full job record: logs, alerts, commits,
// dependencies, build outcome, and the final score.
func (h *Handlers) HandleDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "analysis ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	job, err := h.ctrl.GetDetails(r.Context(), id)
	if err != nil {
		writeNotFoundOrInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleList returns recent job summaries.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		limit = n
	}

	summaries, err := h.ctrl.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("listing jobs")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if summaries == nil {
		summaries = []model.JobSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func writeNotFoundOrInternal(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, "analysis not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("lookup failed")
	writeError(w, "lookup failed", "INTERNAL", http.StatusInternalServerError, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
