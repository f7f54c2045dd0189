package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestPrometheusHandler_KnownEventsStartAtZero(t *testing.T) {
	body := scrape(t, New())

	if !strings.Contains(body, "# TYPE aero_webrtc_signal_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	for _, name := range Events {
		if !strings.Contains(body, `aero_webrtc_signal_relay_events_total{event="`+name+`"} 0`) {
			t.Fatalf("missing zero sample for %s:\n%s", name, body)
		}
	}
}

func TestPrometheusHandler_CountsAndOrder(t *testing.T) {
	m := New()
	m.Inc(RoomFull)
	m.Add(RelayDelivered, 3)
	m.Inc("zz_adhoc")
	m.Inc(`quote"back\slash`)

	body := scrape(t, m)
	for _, want := range []string{
		`aero_webrtc_signal_relay_events_total{event="room_full"} 1`,
		`aero_webrtc_signal_relay_events_total{event="relay_delivered"} 3`,
		`aero_webrtc_signal_relay_events_total{event="zz_adhoc"} 1`,
		`aero_webrtc_signal_relay_events_total{event="quote\"back\\slash"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q:\n%s", want, body)
		}
	}

	// Known events keep their declared order; ad-hoc names come after them.
	opened := strings.Index(body, `event="connections_opened"`)
	uploads := strings.Index(body, `event="uploads_rejected"`)
	quote := strings.Index(body, `event="quote`)
	adhoc := strings.Index(body, `event="zz_adhoc"`)
	if !(opened < uploads && uploads < quote && quote < adhoc) {
		t.Fatalf("unexpected sample order:\n%s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
