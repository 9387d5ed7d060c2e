package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		409: "4xx",
		500: "5xx",
		503: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	counter, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/v1/disputes/:id", "2xx")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	before := counterValue(t, counter)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/disputes/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/disputes/dsp_abc", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}

	after := counterValue(t, counter)
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, before=%v after=%v", before, after)
	}
}

func TestDisputeCountersIncrement(t *testing.T) {
	resolved, err := DisputesResolvedTotal.GetMetricWithLabelValues("full_refund")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	before := counterValue(t, resolved)
	DisputesResolvedTotal.WithLabelValues("full_refund").Inc()
	if got := counterValue(t, resolved); got != before+1 {
		t.Fatalf("expected increment, before=%v after=%v", before, got)
	}
}
