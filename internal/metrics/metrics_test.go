package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMetricsConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(Joins)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(Joins); got != 800 {
		t.Fatalf("joins = %d, want 800", got)
	}

	snap := m.Snapshot()
	m.Inc(Joins)
	if snap[Joins] != 800 {
		t.Fatalf("snapshot changed after Inc: %d", snap[Joins])
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(Joins)
	if m.Get(Joins) != 0 {
		t.Fatalf("nil metrics should report zero")
	}
	if len(m.Snapshot()) != 0 {
		t.Fatalf("nil metrics snapshot should be empty")
	}
}

func TestPrometheusHandlerExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(MessagesDelivered)
	m.Add(DeliveriesDropped, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE tabtalk_relay_events_total counter",
		`tabtalk_relay_events_total{event="deliveries_dropped"} 2`,
		`tabtalk_relay_events_total{event="messages_delivered"} 1`,
		`tabtalk_relay_events_total{event="quote\"back\\slash"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}

	if strings.Index(body, "deliveries_dropped") > strings.Index(body, "messages_delivered") {
		t.Fatalf("counters should be sorted:\n%s", body)
	}
}
