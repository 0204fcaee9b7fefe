package server

import (
	"net/http"
	"time"
)

func (s *Server) handleAdminReindex(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()
	n, err := s.app.Store.RebuildIndex(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"operation":   "reindex",
		"entries":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleAdminCleanup drops rows older than ?days=N, defaulting to the
// configured retention.
func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	days, err := queryInt(r, "days", s.app.Config.Maintenance.RetentionDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := s.app.Store.RetentionCleanup(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.app.Cache.Clear()
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminOptimize(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()
	n, err := s.app.Store.OptimizeStorage(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"operation":   "optimize",
		"reencoded":   n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAdminCacheClear(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	cleared := s.app.Cache.Len()
	s.app.Cache.Clear()
	s.logger.Info().Int("entries", cleared).Str("correlation_id", correlationID(r.Context())).Msg("Series cache cleared")
	WriteJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleAdminUsageReset(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	s.app.Usage.Reset()
	s.logger.Info().Str("correlation_id", correlationID(r.Context())).Msg("Usage ledger reset")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
