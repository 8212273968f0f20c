package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersInflightAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	// Body-writing route: size >= 0, so the size histogram is observed.
	r.GET("/sessions", func(c *gin.Context) {
		c.String(http.StatusOK, `[]`)
	})

	// Status-only route: size stays -1 and the size observation is skipped.
	r.DELETE("/sessions/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Counters are process-global, so diff against a baseline instead of
	// asserting absolute values.
	baseList := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/sessions", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions -> %d", w.Code)
	}

	// Unmatched route: the path label falls back to the raw URL.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/sessions/abc", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /sessions/abc -> %d", w.Code)
	}

	gotList := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/sessions", "200"))
	if gotList != baseList+1 {
		t.Fatalf("counter GET /sessions 200 = %v; want %v", gotList, baseList+1)
	}

	got404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	if got404 != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got404, base404+1)
	}

	// The route with a path parameter must be labeled with the pattern, not
	// the raw URL.
	gotParam := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/sessions/:id", "204"))
	if gotParam < 1 {
		t.Fatalf("counter DELETE /sessions/:id 204 = %v; want >= 1", gotParam)
	}

	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
