package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/gsm"
	"github.com/sickwell/osmocom-bb-raw/internal/l1ctl"
	"github.com/sickwell/osmocom-bb-raw/internal/l1sim"
	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/sercomm"
)

// DispatcherStats reports dispatcher counters
type DispatcherStats interface {
	Stats() l1ctl.Stats
}

// MuxStats reports multiplexer counters
type MuxStats interface {
	GetStatistics() sercomm.MuxStatistics
}

// LinkStats reports transport link counters
type LinkStats interface {
	GetStatistics() sercomm.LinkStatistics
}

// PoolStats reports message buffer usage
type PoolStats interface {
	Stats() msgb.PoolStats
}

// SimStatus reports the simulated layer 1
type SimStatus interface {
	Status() l1sim.Status
}

// Sources are the components the API reports on
type Sources struct {
	State      *l1state.State
	Dispatcher DispatcherStats
	Mux        MuxStats
	Link       LinkStats
	Pool       PoolStats
	Sim        SimStatus
	Gatherer   prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring the bridge
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, sources Sources, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/state", h.withMetrics("/state", h.handleState))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Decoding helpers
	mux.HandleFunc("/channels/", h.withMetrics("/channels/{chan_nr}", h.handleChannel))
	mux.HandleFunc("/time/", h.withMetrics("/time/{fn}", h.handleTime))

	gatherer := h.sources.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. The service is degraded
// once the dispatcher has hit a fatal error.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dispatcherStats := h.sources.Dispatcher.Stats()
	linkStats := h.sources.Link.GetStatistics()
	poolStats := h.sources.Pool.Stats()

	status := "healthy"
	code := http.StatusOK
	if dispatcherStats.Fatal > 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "l1ctld",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"link": map[string]interface{}{
				"transport": linkStats.Transport,
				"connected": linkStats.Connected,
				"peer":      linkStats.Peer,
			},
			"dispatcher": map[string]interface{}{
				"received": dispatcherStats.Received,
				"fatal":    dispatcherStats.Fatal,
			},
			"buffers": map[string]interface{}{
				"in_use":   poolStats.InUse,
				"capacity": poolStats.Capacity,
			},
		},
	}

	writeJSON(w, code, health)
}

// handleState implements the /state endpoint
func (h *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.sources.State.Snapshot())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":     time.Since(h.startTime).String(),
		"timestamp":  time.Now().UTC(),
		"dispatcher": h.sources.Dispatcher.Stats(),
		"mux":        h.sources.Mux.GetStatistics(),
		"link":       h.sources.Link.GetStatistics(),
		"buffers":    h.sources.Pool.Stats(),
	}
	if h.sources.Sim != nil {
		stats["layer1"] = h.sources.Sim.Status()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transport := map[string]interface{}{
		"type": h.config.Transport.Type,
	}
	switch h.config.Transport.Type {
	case "serial":
		transport["serial"] = map[string]interface{}{
			"device":    h.config.Transport.Serial.Device,
			"baud_rate": h.config.Transport.Serial.BaudRate,
			"data_bits": h.config.Transport.Serial.DataBits,
			"stop_bits": h.config.Transport.Serial.StopBits,
			"parity":    h.config.Transport.Serial.Parity,
		}
	default:
		transport["udp"] = map[string]interface{}{
			"port":           h.config.Transport.UDP.Port,
			"bind_address":   h.config.Transport.UDP.BindAddress,
			"remote_address": h.config.Transport.UDP.RemoteAddress,
			"buffer_size":    h.config.Transport.UDP.BufferSize,
			"queue_size":     h.config.Transport.UDP.QueueSize,
		}
	}

	sanitizedConfig := map[string]interface{}{
		"transport": transport,
		"sim": map[string]interface{}{
			"frame_duration":    h.config.Sim.FrameDuration,
			"fbsb_delay_frames": h.config.Sim.FBSBDelayFrames,
			"bsic":              h.config.Sim.BSIC,
			"signal_level":      h.config.Sim.SignalLevel,
			"pm_batch_size":     h.config.Sim.PMBatchSize,
		},
		"buffers": map[string]interface{}{
			"pool_size":   h.config.Buffers.PoolSize,
			"buffer_size": h.config.Buffers.BufferSize,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleChannel implements the /channels/{chan_nr} endpoint. The channel
// number may be decimal or 0x-prefixed hex.
func (h *HTTPServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chanNrStr := r.URL.Path[len("/channels/"):]
	if chanNrStr == "" {
		http.Error(w, "Channel number required", http.StatusBadRequest)
		return
	}

	chanNr, err := strconv.ParseUint(chanNrStr, 0, 8)
	if err != nil {
		http.Error(w, "Invalid channel number", http.StatusBadRequest)
		return
	}

	ch := channr.Decode(uint8(chanNr))
	task := channr.DecodeTask(uint8(chanNr))

	response := map[string]interface{}{
		"chan_nr":    chanNr,
		"type":       ch.Type.String(),
		"subchannel": ch.Subchannel,
		"timeslot":   ch.Timeslot,
		"traffic":    channr.IsTraffic(uint8(chanNr)),
	}
	if task != channr.TaskNone {
		response["task"] = task.String()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleTime implements the /time/{fn} endpoint
func (h *HTTPServer) handleTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fn, err := strconv.ParseUint(r.URL.Path[len("/time/"):], 10, 32)
	if err != nil {
		http.Error(w, "Invalid frame number", http.StatusBadRequest)
		return
	}

	t, err := gsm.FrameToTime(uint32(fn))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "L1CTL control-plane bridge",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"GET /state":              "Layer 1 control state snapshot",
			"GET /stats":              "Dispatcher, transport and buffer statistics",
			"GET /config":             "Service configuration",
			"GET /channels/{chan_nr}": "Decode a channel number",
			"GET /time/{fn}":          "Decompose a frame number into GSM time",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
