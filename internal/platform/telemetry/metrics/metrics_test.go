package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAdmissionsCountByResult(t *testing.T) {
	before := testutil.ToFloat64(Admissions.WithLabelValues("admitted"))
	Admissions.WithLabelValues("admitted").Inc()
	if got := testutil.ToFloat64(Admissions.WithLabelValues("admitted")); got != before+1 {
		t.Fatalf("admitted = %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	AssistantInvocations.WithLabelValues("ok").Inc()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "codecollab_assistant_invocations_total") {
		t.Fatal("expected assistant invocation counter in exposition")
	}
}

func TestHandlerExposesEveryCollector(t *testing.T) {
	RoomsOpen.Add(0)
	ConnectionsActive.Add(0)
	EventsRelayed.WithLabelValues("message").Add(0)
	DeliveriesDropped.Add(0)
	AssistantInvocations.WithLabelValues("ok").Add(0)
	AssistantLatency.Observe(0)
	FileSaves.WithLabelValues("saved").Add(0)
	Admissions.WithLabelValues("admitted").Add(0)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, name := range []string{
		"codecollab_admissions_total",
		"codecollab_rooms_open",
		"codecollab_connections_active",
		"codecollab_events_relayed_total",
		"codecollab_deliveries_dropped_total",
		"codecollab_assistant_invocations_total",
		"codecollab_assistant_latency_seconds",
		"codecollab_file_saves_total",
	} {
		if !strings.Contains(body, "# HELP "+name+" ") {
			t.Errorf("missing help for %s", name)
		}
	}
}
