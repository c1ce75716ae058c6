package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// scrape returns the text exposition for reg.
func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveHTTP(http.MethodPost, "/emails/test", http.StatusOK, 20*time.Millisecond)
	c.ObserveHTTP(http.MethodPost, "/emails/test", http.StatusOK, 30*time.Millisecond)
	c.ObserveHTTP(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	body := scrape(t, reg)
	for _, want := range []string{
		`buildboard_http_requests_total{method="POST",route="/emails/test",status="200"} 2`,
		`buildboard_http_requests_total{method="GET",route="unmatched",status="404"} 1`,
		`buildboard_http_request_duration_seconds_count{method="POST",route="/emails/test"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestObserveDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveDelivery("signup_confirmation", true)
	c.ObserveDelivery("signup_confirmation", false)
	c.ObserveDelivery("test", true)
	c.ObserveDelivery("test", true)

	body := scrape(t, reg)
	for _, want := range []string{
		`buildboard_email_deliveries_total{result="success",type="signup_confirmation"} 1`,
		`buildboard_email_deliveries_total{result="error",type="signup_confirmation"} 1`,
		`buildboard_email_deliveries_total{result="success",type="test"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
	if strings.Contains(body, `result="error",type="test"`) {
		t.Error("no failed test sends were observed")
	}
}
