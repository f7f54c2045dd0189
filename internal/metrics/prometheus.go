package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const eventsFamily = "aero_webrtc_signal_relay_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler serves the relay's counters as the single
// aero_webrtc_signal_relay_events_total family, one sample per `event`.
//
// Every name in Events is always present (zero until first incremented) so
// rate() queries over room_full or relay_target_offline work from the first
// scrape. Ad-hoc names follow in sorted order.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Signaling relay and upload events.\n", eventsFamily)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsFamily)

		for _, name := range Events {
			writeSample(w, name, snap[name])
			delete(snap, name)
		}
		extra := make([]string, 0, len(snap))
		for name := range snap {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		for _, name := range extra {
			writeSample(w, name, snap[name])
		}
	})
}

func writeSample(w http.ResponseWriter, event string, v uint64) {
	_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsFamily, labelEscaper.Replace(event), v)
}
