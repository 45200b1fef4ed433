package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg: &Config{
			ChatTimeout:     5 * time.Minute,
			MetricsRegistry: reg,
			MetricsGatherer: reg,
		},
		metrics: NewMetrics(reg),
	}
	return s, reg
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	// Simulate a successful chat request via the counter directly.
	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "docrag_chat_requests_total" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "outcome" && lp.GetValue() == "ok" {
						if m.GetCounter().GetValue() != 1 {
							t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
						}
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("docrag_chat_requests_total{outcome=\"ok\"} not found in gathered metrics")
	}
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.chatActiveStreams.Inc()
	s.metrics.chatActiveStreams.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "docrag_chat_active_streams" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("want active_streams=2, got %v", v)
			}
			return
		}
	}
	t.Error("docrag_chat_active_streams not found in gathered metrics")
}

// counterValue returns the value of the counter name{label=value}, or -1.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_ObserveLoad(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.ObserveLoad("built")
	s.metrics.ObserveLoad("restored")
	s.metrics.ObserveLoad("restored")

	if v := counterValue(t, reg, "docrag_collection_loads_total", "result", "restored"); v != 2 {
		t.Errorf("restored loads = %v, want 2", v)
	}
	if v := counterValue(t, reg, "docrag_collection_loads_total", "result", "built"); v != 1 {
		t.Errorf("built loads = %v, want 1", v)
	}
}

// Test_Metrics_WiredThroughRequests drives real requests and checks that
// loads, chats and HTTP requests are all counted.
func Test_Metrics_WiredThroughRequests(t *testing.T) {
	t.Parallel()

	a := newAPIServer(t, &fakeChatModel{fragments: []string{"ok"}}, "")
	id := a.createSession(t)
	a.do(t, http.MethodPost, "/api/sessions/"+id+"/collection", `{"name":"demo"}`, nil)
	readSSE(t, a.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", `{"message":"hello?"}`, nil).Body)

	if v := counterValue(t, a.reg, "docrag_collection_loads_total", "result", "built"); v != 1 {
		t.Errorf("built loads = %v, want 1", v)
	}
	if v := counterValue(t, a.reg, "docrag_chat_requests_total", "outcome", "ok"); v != 1 {
		t.Errorf("ok chats = %v, want 1", v)
	}
	if v := counterValue(t, a.reg, "docrag_http_requests_total", labelHandler, "session_create"); v != 1 {
		t.Errorf("session_create requests = %v, want 1", v)
	}

	resp := a.do(t, http.MethodGet, "/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "docrag_chat_active_streams 0") {
		t.Errorf("/metrics should expose the active streams gauge at 0")
	}
}
