package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/marketcache/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// Stock data
	mux.HandleFunc("/api/stocks/batch", s.handleStocksBatch)
	mux.HandleFunc("/api/stocks/", s.routeStocks)

	// Usage
	mux.HandleFunc("/api/usage", s.handleUsage)

	// Admin: store maintenance, cache, usage ledger
	mux.HandleFunc("/api/admin/reindex", s.handleAdminReindex)
	mux.HandleFunc("/api/admin/cleanup", s.handleAdminCleanup)
	mux.HandleFunc("/api/admin/optimize", s.handleAdminOptimize)
	mux.HandleFunc("/api/admin/cache/clear", s.handleAdminCacheClear)
	mux.HandleFunc("/api/admin/usage/reset", s.handleAdminUsageReset)
}

// routeStocks dispatches /api/stocks/{symbol}/* to the appropriate handler.
func (s *Server) routeStocks(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/stocks/"), "/")
	if path == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "symbol is required in path", codeInvalidRequest)
		return
	}

	parts := strings.Split(path, "/")
	symbol := parts[0]

	switch {
	case len(parts) == 1:
		s.handleStock(w, r, symbol)
	case len(parts) == 2 && parts[1] == "news":
		s.handleNews(w, r, symbol)
	case len(parts) == 3 && parts[1] == "indicators":
		s.handleIndicators(w, r, symbol, parts[2])
	case len(parts) == 3 && parts[1] == "fundamentals":
		s.handleFundamentals(w, r, symbol, parts[2])
	default:
		WriteErrorWithCode(w, http.StatusNotFound, "Not found", codeNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.VersionInfo())
}
