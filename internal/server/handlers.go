package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zipaJopa/agent-results/internal/metrics"
	"github.com/zipaJopa/agent-results/internal/storage"
)

// handleHealth returns service liveness and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
	})
}

// handleSystemStatus returns host CPU and memory usage.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = vm.UsedPercent
		status["memory_used_mb"] = vm.Used / 1024 / 1024
		status["memory_total_mb"] = vm.Total / 1024 / 1024
	}

	s.respondJSON(w, http.StatusOK, status)
}

// handleMetricsToday serves the current UTC day's metrics snapshot.
func (s *Server) handleMetricsToday(w http.ResponseWriter, r *http.Request) {
	s.serveMetrics(w, r, time.Now().UTC().Format(metrics.DateFormat))
}

// handleMetricsByDate serves a specific day's metrics snapshot.
func (s *Server) handleMetricsByDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(metrics.DateFormat, date); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	s.serveMetrics(w, r, date)
}

// serveMetrics proxies a day's snapshot straight from object storage.
func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request, date string) {
	obj, err := s.store.Read(r.Context(), s.tracker.MetricsKey(date))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no metrics recorded for "+date)
			return
		}
		s.log.Error().Err(err).Str("date", date).Msg("Failed to read metrics snapshot")
		s.respondError(w, http.StatusBadGateway, "failed to read metrics snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Content)
}

// handleListRuns returns recent ingestion runs from the local ledger.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleTriggerRun starts an ingestion pass in the background. Only one
// run may be in flight at a time.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.triggerRun == nil {
		s.respondError(w, http.StatusNotImplemented, "manual runs are not enabled")
		return
	}

	select {
	case s.runGate <- struct{}{}:
	default:
		s.respondError(w, http.StatusConflict, "an ingestion run is already in progress")
		return
	}

	// Detached from the request: the run outlives the HTTP call that
	// triggered it.
	go func() {
		defer func() { <-s.runGate }()

		if err := s.triggerRun(); err != nil {
			s.log.Error().Err(err).Msg("Triggered ingestion run failed")
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError writes a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
