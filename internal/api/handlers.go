package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chesshelper/internal/types"
)

// handleHealth reports queue health. Unhealthy maps to 503 so load balancers
// and uptime probes need no body parsing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"version": s.buildVersion})
}

// handleProcessNow triggers one batch run. Query parameters: dry_run=1,
// priority=high|medium|low, max_batch=N (capped at the configured size).
func (s *Server) handleProcessNow(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var priority *types.Priority
	if raw := query.Get("priority"); raw != "" {
		p, ok := types.ParsePriority(raw)
		if !ok {
			writeError(w, r, types.NewAppError(types.ErrCodeValidationInvalidPriority,
				fmt.Sprintf("unknown priority %q", raw), nil))
			return
		}
		priority = &p
	}

	maxBatch := s.maxBatchSize
	if raw := query.Get("max_batch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"max_batch must be a positive integer", err))
			return
		}
		if n < maxBatch {
			maxBatch = n
		}
	}

	result, err := s.processor.ProcessQueue(r.Context(), priority, maxBatch, isDryRun(query))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleCleanup triggers one retention run, with dry_run=1 support.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := s.cleanup.Run(r.Context(), isDryRun(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleEnqueue admits one email through the producer path.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req types.EnqueueRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.queue.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// handleListItems lists queue items with optional status, priority,
// template, user, and limit filters.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.ListFilter{
		Status:       types.Status(query.Get("status")),
		TemplateKind: types.TemplateKind(query.Get("template_kind")),
		UserID:       query.Get("user_id"),
	}

	if raw := query.Get("priority"); raw != "" {
		p, ok := types.ParsePriority(raw)
		if !ok {
			writeError(w, r, types.NewAppError(types.ErrCodeValidationInvalidPriority,
				fmt.Sprintf("unknown priority %q", raw), nil))
			return
		}
		filter.Priority = p
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a positive integer", err))
			return
		}
		filter.Limit = n
	}

	items, err := s.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

func (s *Server) handleItemAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.queue.Attempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, attempts)
}

// retryRequest is the optional body of a retry call.
type retryRequest struct {
	PolicyName string `json:"policy_name,omitempty"`
}

// handleRetryItem requeues a failed item, optionally under a new policy.
func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.queue.RetryFailed(r.Context(), chi.URLParam(r, "id"), req.PolicyName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

func (s *Server) handleCancelItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"id": id, "status": string(types.StatusCancelled)})
}

func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a positive integer", err))
			return
		}
		limit = n
	}

	entries, err := s.suppressions.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// handleDeleteSuppression removes a recipient from the suppression list.
// This is the only path that clears a suppression.
func (s *Server) handleDeleteSuppression(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || email == "" {
		writeError(w, r, types.NewAppError(types.ErrCodeValidationInvalidEmail, "invalid email path segment", err))
		return
	}

	if err := s.suppressions.Delete(r.Context(), email); err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.Info("suppression removed by admin", "recipient", types.RedactEmail(email))
	writeJSON(w, r, http.StatusOK, map[string]string{"email": email, "removed": "true"})
}

// isDryRun interprets the dry_run query flag ("1" or "true").
func isDryRun(q url.Values) bool {
	v := q.Get("dry_run")
	return v == "1" || v == "true"
}
