package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/miyah/internal/store"
)

// maxBodyBytes bounds a create request. Reports may carry inline media refs.
const maxBodyBytes = 50 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /api/health) must include
// a valid Authorization: Bearer <token> header. When gatherer is non-nil its
// metrics are served at GET /metrics.
func (s *ReportsServer) NewHTTPHandler(authToken string, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /api/reports", s.handleListReports)
	s.handle(mux, "POST /api/reports", s.handleCreateReport)
	s.handle(mux, "GET /api/reports/{id}", s.handleGetReport)
	s.handle(mux, "DELETE /api/reports/{id}", s.handleDeleteReport)
	s.handle(mux, "GET /api/health", s.handleHealth)
	s.handle(mux, "GET /api/events/stream", s.handleEventStream)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return AuthMiddleware(authToken, mux)
}

func (s *ReportsServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
}

// handleListReports handles GET /api/reports.
func (s *ReportsServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleCreateReport handles POST /api/reports.
func (s *ReportsServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var in createReportInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	report, created, err := s.createReport(r.Context(), in)
	if err != nil {
		var ie inputError
		if errors.As(err, &ie) {
			writeError(w, http.StatusBadRequest, ie.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Report already exists",
			"report":  report,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"report":  report,
	})
}

// handleGetReport handles GET /api/reports/{id}.
func (s *ReportsServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Report not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDeleteReport handles DELETE /api/reports/{id}.
func (s *ReportsServer) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteReport(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Report not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Report deleted"})
}

// handleHealth handles GET /api/health.
func (s *ReportsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountReports(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "reportCount": n})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
