package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

// Query defaults.
const (
	defaultPriceDays     = 30
	defaultIndicatorDays = 30
	defaultNewsDays      = 7
	maxBatchSymbols      = 100
)

// --- Stock data handlers ---

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request, symbol string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	days, err := queryInt(r, "days", defaultPriceDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	live, err := queryBool(r, "live", true)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	history, err := s.app.MarketService.GetStockData(r.Context(), symbol, days, live)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, history)
}

// batchRequest is the body of POST /api/stocks/batch.
type batchRequest struct {
	Symbols []string `json:"symbols"`
	Days    int      `json:"days"`
	Live    *bool    `json:"live"`
}

// batchItem is one symbol's outcome in a batch response.
type batchItem struct {
	Data  *models.PriceHistory `json:"data,omitempty"`
	Error string               `json:"error,omitempty"`
	Code  string               `json:"code,omitempty"`
}

type batchResponse struct {
	Results   map[string]batchItem `json:"results"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

func (s *Server) handleStocksBatch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req batchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	symbols := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		if strings.TrimSpace(sym) != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, "symbols is required", codeInvalidRequest)
		return
	}
	if len(symbols) > maxBatchSymbols {
		WriteErrorWithCode(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d symbols per batch, got %d", maxBatchSymbols, len(symbols)), codeInvalidRequest)
		return
	}
	if req.Days == 0 {
		req.Days = defaultPriceDays
	}
	if req.Days < 0 {
		writeServiceError(w, fmt.Errorf("%w: days must be positive, got %d", common.ErrInvalidRequest, req.Days))
		return
	}
	live := true
	if req.Live != nil {
		live = *req.Live
	}

	results := s.app.MarketService.BatchGetStockData(r.Context(), symbols, req.Days, live)

	resp := batchResponse{Results: make(map[string]batchItem, len(results))}
	for sym, res := range results {
		if res.Err != nil {
			_, code := errorStatus(res.Err)
			resp.Results[sym] = batchItem{Error: res.Err.Error(), Code: code}
			resp.Failed++
			continue
		}
		resp.Results[sym] = batchItem{Data: res.Data}
		resp.Succeeded++
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request, symbol, family string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	days, err := queryInt(r, "days", defaultIndicatorDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	series, err := s.app.MarketService.GetTechnicalIndicators(r.Context(), symbol, family, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, series)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request, symbol string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	days, err := queryInt(r, "days", defaultNewsDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	feed, err := s.app.MarketService.GetNewsSentiment(r.Context(), symbol, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, feed)
}

func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request, symbol, statement string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stmt, err := s.app.MarketService.GetFundamentals(r.Context(), symbol, statement)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stmt)
}

// --- Usage ---

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report := s.app.Usage.Report()
	stats, err := s.app.Store.Stats(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Storage stats unavailable for usage report")
	} else {
		report.Storage = stats
	}
	WriteJSON(w, http.StatusOK, report)
}
