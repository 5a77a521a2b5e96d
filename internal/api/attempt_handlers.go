package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	if req.ExamType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "exam_type is required")
		return
	}

	if req.Mode == "" {
		req.Mode = models.ModeFullMock
	}

	view, err := s.orchestrator.CreateAttempt(r.Context(), &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateUserCaches(r, req.UserID, req.ExamType)

	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	// exam_type is optional; empty means all
	examType := r.URL.Query().Get("exam_type")

	views, err := s.orchestrator.ListAttempts(r.Context(), userID, examType)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if id == "" || userID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "attempt id and user_id are required")
		return
	}

	view, err := s.orchestrator.GetAttempt(r.Context(), id, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sectionType := chi.URLParam(r, "type")

	var req models.StartSectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	resp, err := s.orchestrator.StartSection(r.Context(), id, sectionType, req.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateUserCaches(r, req.UserID, resp.ExamType)

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompleteSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sectionType := chi.URLParam(r, "type")

	var req models.CompleteSectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	resp, err := s.orchestrator.CompleteSection(r.Context(), id, sectionType, &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateUserCaches(r, req.UserID, resp.ExamType)

	respondJSON(w, http.StatusOK, resp)
}
