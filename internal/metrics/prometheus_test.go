package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandlerExposesCountersAndGauges(t *testing.T) {
	m := New()
	m.Inc(EventConnections)
	m.Add(EventFramesIn, 3)
	m.Inc(`quote"back\slash`)
	peers := 2
	m.Gauge("peers", func() int { return peers })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE signaling_events_total counter",
		`signaling_events_total{event="connections"} 1`,
		`signaling_events_total{event="frames_in"} 3`,
		`signaling_events_total{event="quote\"back\\slash"} 1`,
		"# TYPE signaling_peers gauge",
		"signaling_peers 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(EventConnections)
	if got := m.Get(EventConnections); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}

	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
