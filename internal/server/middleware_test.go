package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/marketcache/internal/common"
)

func TestRequestSymbol(t *testing.T) {
	cases := map[string]string{
		"/api/stocks/aapl":                   "AAPL",
		"/api/stocks/BHP.AX/news":            "BHP.AX",
		"/api/stocks/msft/indicators/trend/": "MSFT",
		"/api/stocks/batch":                  "",
		"/api/stocks/":                       "",
		"/api/usage":                         "",
	}
	for path, want := range cases {
		assert.Equal(t, want, requestSymbol(path), "path %q", path)
	}
}

func TestMiddleware_CorrelationIDReachesHandler(t *testing.T) {
	var seen string
	h := applyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = correlationID(r.Context())
	}), common.NewSilentLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, seen, 8, "generated IDs are short uuids")
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestMiddleware_RequestLogCarriesSymbol(t *testing.T) {
	var buf bytes.Buffer
	logger := common.NewLoggerWithOutput("debug", &buf)
	h := applyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), logger)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stocks/tsla?days=30", nil))

	out := buf.String()
	assert.Contains(t, out, `"symbol":"TSLA"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"query":"days=30"`)
}

func TestMiddleware_PanicIsLoggedAsServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := common.NewLoggerWithOutput("info", &buf)
	h := applyMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/stocks/AAPL", nil)
	req.Header.Set("X-Correlation-ID", "corr-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out := buf.String()
	assert.Contains(t, out, "Panic recovered in HTTP handler")
	assert.Contains(t, out, `"correlation_id":"corr-7"`)
	assert.Contains(t, out, `"status":500`)
}
