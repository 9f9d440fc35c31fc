package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMetrics_RegisteredUnderNamespace verifies every collector is gathered with the grip prefix
func TestMetrics_RegisteredUnderNamespace(t *testing.T) {
	RequestsSubmittedCounter.Inc()
	RequestDurationHistogram.Observe(0.01)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]bool{
		"grip_queue_requests_submitted_total": false,
		"grip_queue_requests_completed_total": false,
		"grip_queue_requests_failed_total":    false,
		"grip_queue_requests_dropped_total":   false,
		"grip_module_requests_rejected_total": false,
		"grip_queue_callbacks_invoked_total":  false,
		"grip_queue_requests_in_flight":       false,
		"grip_queue_pending_completions":      false,
		"grip_module_live_response_handles":   false,
		"grip_queue_request_duration_seconds": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		} else if strings.HasPrefix(mf.GetName(), Namespace+"_") {
			t.Errorf("unexpected metric %s", mf.GetName())
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("metric %s not registered", name)
		}
	}
}
