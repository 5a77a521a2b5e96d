package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/cache"
	"github.com/proficienthub/mockexam-engine/internal/exam"
	"github.com/proficienthub/mockexam-engine/internal/ledger"
	"github.com/proficienthub/mockexam-engine/internal/models"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorDetails(w, status, code, message, nil)
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondDomainError maps the closed set of expected business outcomes
// to HTTP statuses. Anything outside the set is an internal failure and
// is logged without leaking storage detail to the caller.
func respondDomainError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	var invalidType *exam.InvalidExamTypeError

	switch {
	case errors.Is(err, ledger.ErrPlanNotFound):
		respondError(w, http.StatusNotFound, "plan_not_found", "no active exam plan found")
	case errors.Is(err, ledger.ErrPlanExpired):
		respondError(w, http.StatusPaymentRequired, "plan_expired", "exam plan has expired")
	case errors.As(err, &insufficient):
		respondErrorDetails(w, http.StatusPaymentRequired, "insufficient_credits", insufficient.Error(), map[string]float64{
			"available": insufficient.Available,
			"required":  insufficient.Required,
		})
	case errors.Is(err, exam.ErrStudentNotFound):
		respondError(w, http.StatusNotFound, "student_not_found", "student enrollment not found")
	case errors.Is(err, exam.ErrAttemptNotFound):
		respondError(w, http.StatusNotFound, "attempt_not_found", "mock exam attempt not found")
	case errors.Is(err, exam.ErrSectionNotFound):
		respondError(w, http.StatusNotFound, "section_not_found", "section not found")
	case errors.Is(err, exam.ErrSectionLocked):
		respondError(w, http.StatusConflict, "section_locked", "section is locked; complete the preceding section first")
	case errors.Is(err, exam.ErrSectionNotStarted):
		respondError(w, http.StatusConflict, "section_not_started", "section has not been started")
	case errors.Is(err, exam.ErrSectionAlreadyCompleted):
		respondError(w, http.StatusConflict, "section_already_completed", "section already completed")
	case errors.Is(err, exam.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access_denied", "attempt belongs to another user")
	case errors.As(err, &invalidType):
		respondErrorDetails(w, http.StatusBadRequest, "invalid_exam_type", invalidType.Error(), map[string]interface{}{
			"given":         invalidType.Given,
			"valid_options": invalidType.Valid,
		})
	case errors.Is(err, exam.ErrInvalidMode):
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be full_mock or section")
	default:
		slog.Error("unexpected error handling request", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "database not ready")
		return
	}

	if s.cache != nil {
		if err := s.cache.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", "cache not ready")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Exam type handlers

func (s *Server) handleListExamTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

// Credit handlers

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	examType := r.URL.Query().Get("exam_type")
	if userID == "" || examType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id and exam_type are required")
		return
	}

	key := cache.BalanceKey(userID, examType)
	if s.cache != nil {
		var cached models.CreditBalance
		if hit, err := s.cache.GetJSON(r.Context(), key, &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	balance, err := s.orchestrator.GetCredits(r.Context(), userID, examType)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), key, balance); err != nil {
			slog.Warn("failed to cache balance", "key", key, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, balance)
}

// Dashboard handlers

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	examType := r.URL.Query().Get("exam_type")
	if userID == "" || examType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id and exam_type are required")
		return
	}

	key := cache.DashboardKey(userID, examType)
	if s.cache != nil {
		var cached models.Dashboard
		if hit, err := s.cache.GetJSON(r.Context(), key, &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	dashboard, err := s.orchestrator.Dashboard(r.Context(), userID, examType)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), key, dashboard); err != nil {
			slog.Warn("failed to cache dashboard", "key", key, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, dashboard)
}

// invalidateUserCaches drops the cached views that a balance movement
// or section transition makes stale.
func (s *Server) invalidateUserCaches(r *http.Request, userID, examType string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(r.Context(), cache.BalanceKey(userID, examType), cache.DashboardKey(userID, examType)); err != nil {
		slog.Warn("failed to invalidate caches", "user_id", userID, "error", err)
	}
}
