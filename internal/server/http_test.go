package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/l1ctl"
	"github.com/sickwell/osmocom-bb-raw/internal/l1sim"
	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/sercomm"
)

type stubDispatcher struct{ stats l1ctl.Stats }

func (s stubDispatcher) Stats() l1ctl.Stats { return s.stats }

type stubMux struct{}

func (stubMux) GetStatistics() sercomm.MuxStatistics { return sercomm.MuxStatistics{Delivered: 7} }

type stubLink struct{}

func (stubLink) GetStatistics() sercomm.LinkStatistics {
	return sercomm.LinkStatistics{Transport: "udp", Connected: true, Peer: "127.0.0.1:5700"}
}

type stubPool struct{}

func (stubPool) Stats() msgb.PoolStats { return msgb.PoolStats{Capacity: 32, InUse: 2} }

type stubSim struct{}

func (stubSim) Status() l1sim.Status { return l1sim.Status{FrameNumber: 99} }

func testConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{
			Type: "udp",
			UDP:  config.UDPConfig{Port: 5700, BindAddress: "127.0.0.1", BufferSize: 2048, QueueSize: 64},
		},
		HTTP:    config.HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		Buffers: config.BuffersConfig{PoolSize: 32, BufferSize: 512},
		Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func newTestServer(t *testing.T, dispatcher stubDispatcher) (*HTTPServer, *l1state.State, *prometheus.Registry, *metrics.Metrics) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	state := l1state.New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	h := NewHTTPServer(testConfig(), Sources{
		State:      state,
		Dispatcher: dispatcher,
		Mux:        stubMux{},
		Link:       stubLink{},
		Pool:       stubPool{},
		Sim:        stubSim{},
		Gatherer:   reg,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	return h, state, reg, m
}

func get(t *testing.T, h *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		stats      l1ctl.Stats
		wantCode   int
		wantStatus string
	}{
		{"healthy", l1ctl.Stats{Received: 3}, http.StatusOK, "healthy"},
		{"degraded after fatal error", l1ctl.Stats{Fatal: 1}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, _ := newTestServer(t, stubDispatcher{stats: tt.stats})

			rec := get(t, h, http.MethodGet, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if got := decode(t, rec)["status"]; got != tt.wantStatus {
				t.Errorf("Expected %q, got %v", tt.wantStatus, got)
			}
		})
	}
}

func TestStateEndpoint(t *testing.T) {
	h, state, _, _ := newTestServer(t, stubDispatcher{})
	state.SetDedicated(l1state.Dedicated{Type: channr.TypeSDCCH8, Timeslot: 1})
	state.EnableTask(channr.TaskSDCCH8_3)

	rec := get(t, h, http.MethodGet, "/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{`"type_name":"SDCCH/8"`, `"SDCCH8_3"`, `"tx_queues"`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in %s", want, body)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, _, _, _ := newTestServer(t, stubDispatcher{stats: l1ctl.Stats{Received: 5}})

	body := decode(t, get(t, h, http.MethodGet, "/stats"))

	for _, key := range []string{"dispatcher", "mux", "link", "buffers", "layer1"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Missing %q section", key)
		}
	}
	if got := body["dispatcher"].(map[string]interface{})["received"]; got != float64(5) {
		t.Errorf("Expected received 5, got %v", got)
	}
}

func TestConfigEndpoint(t *testing.T) {
	h, _, _, _ := newTestServer(t, stubDispatcher{})

	body := decode(t, get(t, h, http.MethodGet, "/config"))

	transport := body["transport"].(map[string]interface{})
	if transport["type"] != "udp" {
		t.Errorf("Unexpected transport %v", transport)
	}
	if _, ok := transport["serial"]; ok {
		t.Error("Unselected transport must not be reported")
	}
}

func TestDecodeEndpoints(t *testing.T) {
	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/channels/0x0a", http.StatusOK, `"task":"TCH_F_EVEN"`},
		{"/channels/10", http.StatusOK, `"type":"TCH/F"`},
		{"/channels/0x00", http.StatusOK, `"type":"unknown"`},
		{"/channels/256", http.StatusBadRequest, "Invalid channel number"},
		{"/channels/", http.StatusBadRequest, "Channel number required"},
		{"/time/1326", http.StatusOK, `"t1":1`},
		{"/time/2715648", http.StatusBadRequest, "frame number"},
		{"/time/x", http.StatusBadRequest, "Invalid frame number"},
	}

	h, _, _, _ := newTestServer(t, stubDispatcher{})
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, http.MethodGet, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestMethodAndRouting(t *testing.T) {
	h, _, _, m := newTestServer(t, stubDispatcher{})

	if rec := get(t, h, http.MethodPost, "/health"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
	if rec := get(t, h, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := get(t, h, http.MethodGet, "/"); !strings.Contains(rec.Body.String(), "/channels/{chan_nr}") {
		t.Errorf("Root does not document the API: %s", rec.Body.String())
	}

	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues(http.MethodPost, "/health", "client_error")); got != 1 {
		t.Errorf("Expected 1 client error, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/", "404")); got != 1 {
		t.Errorf("Expected 1 not found request, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _, m := newTestServer(t, stubDispatcher{})
	m.SetFrameNumber(1234)

	rec := get(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "l1ctl_frame_number 1234") {
		t.Errorf("Frame number gauge missing from %s", rec.Body.String())
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Port = 0
	h := NewHTTPServer(cfg, Sources{
		State:      l1state.New(slog.New(slog.NewTextHandler(io.Discard, nil))),
		Dispatcher: stubDispatcher{},
		Mux:        stubMux{},
		Link:       stubLink{},
		Pool:       stubPool{},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + h.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := h.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
