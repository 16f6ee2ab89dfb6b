package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/dispatch"
	"github.com/foxzi/leadcast/internal/ingest"
	"github.com/foxzi/leadcast/internal/stats"
)

const (
	defaultMaxBodyBytes = 1 << 20
	trackTimeout        = 5 * time.Second
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// AssignmentResponse is the response for GET /api/v1/assignments/{id}
type AssignmentResponse struct {
	*campaign.Assignment
	Events []campaign.Event `json:"events"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleDispatch handles POST /api/v1/dispatch
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes())).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A batch is not tied to the triggering connection.
	summary, err := s.deps.Dispatcher.Run(s.ctx, req)
	switch {
	case errors.Is(err, dispatch.ErrBatchRunning):
		s.sendError(w, http.StatusConflict, "A dispatch batch is already running")
		return
	case errors.Is(err, dispatch.ErrInvalidRequest):
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("dispatch batch failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Dispatch failed")
		return
	}

	s.sendJSON(w, http.StatusOK, summary)
}

// handleWebhook handles POST /webhooks/{provider}
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	normalizer, ok := s.deps.Normalizers.Get(provider)
	if !ok {
		s.sendError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	ev, err := normalizer.Normalize(r.Header, body)
	switch {
	case errors.Is(err, ingest.ErrInvalidSignature):
		s.logger.Warn("webhook signature rejected", "provider", provider, "remote_addr", r.RemoteAddr)
		s.sendError(w, http.StatusUnauthorized, "Invalid signature")
		return
	case err != nil:
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	case ev == nil:
		s.sendJSON(w, http.StatusOK, map[string]string{"outcome": "ignored"})
		return
	}

	res, err := s.deps.Events.Process(r.Context(), *ev)
	switch {
	case errors.Is(err, ingest.ErrInvalidEvent):
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.sendError(w, http.StatusInternalServerError, "Failed to process event")
		return
	case res.Outcome == ingest.OutcomeNotFound:
		s.sendJSON(w, http.StatusNotFound, res)
		return
	}

	s.sendJSON(w, http.StatusOK, res)
}

// handleTrack handles GET /t/{assignmentID}. The redirect never depends on
// whether the click could be recorded.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assignmentID")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), trackTimeout)
	defer cancel()

	res, err := s.deps.Events.TrackClick(ctx, id, map[string]any{
		"user_agent": r.UserAgent(),
		"ip":         r.RemoteAddr,
	})
	switch {
	case err != nil:
		s.logger.Error("failed to track click", "assignment_id", id, "error", err)
	case res.Outcome == ingest.OutcomeNotFound:
		s.logger.Warn("click for unknown assignment", "assignment_id", id)
	}

	http.Redirect(w, r, s.redirectURL, http.StatusFound)
}

// handleStats handles GET /api/v1/stats/{persona}
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	persona, err := campaign.ParsePersonaID(chi.URLParam(r, "persona"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	variants, err := s.deps.Variants.ListByPersona(ctx, persona)
	if err != nil {
		s.logger.Error("failed to list variants", "persona", persona, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list variants")
		return
	}
	counters, err := s.deps.Stats.Get(ctx, persona)
	if err != nil {
		s.logger.Error("failed to read stats", "persona", persona, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	clicks, err := s.deps.Assignments.CountClicks(ctx, persona)
	if err != nil {
		s.logger.Error("failed to count clicks", "persona", persona, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to count clicks")
		return
	}

	s.sendJSON(w, http.StatusOK, stats.BuildReport(persona, variants, counters, clicks))
}

// handleAssignment handles GET /api/v1/assignments/{id}
func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.deps.Assignments.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get assignment", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get assignment")
		return
	}
	if a == nil {
		s.sendError(w, http.StatusNotFound, "Assignment not found")
		return
	}

	events, err := s.deps.Assignments.ListEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list events", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []campaign.Event{}
	}

	s.sendJSON(w, http.StatusOK, AssignmentResponse{Assignment: a, Events: events})
}

// handleErrors handles GET /api/v1/errors?workflow=&limit=
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Errors == nil {
		s.sendError(w, http.StatusNotFound, "Error log not available")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.sendError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.deps.Errors.List(r.Context(), r.URL.Query().Get("workflow"), limit)
	if err != nil {
		s.logger.Error("failed to list errors", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list errors")
		return
	}
	if records == nil {
		records = []campaign.ErrorRecord{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"errors": records})
}

func (s *Server) maxBodyBytes() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
