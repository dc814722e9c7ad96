package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dev-msp/untitled-voice-assistant/internal/daemon"
	"github.com/dev-msp/untitled-voice-assistant/internal/metrics"
	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
)

// maxUploadBytes bounds /voice/transcribe request bodies (25 MiB is
// about 13 minutes of 16 kHz PCM-16).
const maxUploadBytes = 25 << 20

// HTTPServer exposes the daemon's commands over HTTP
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	daemon   *daemon.Daemon
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	d *daemon.Daemon, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		daemon:    d,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // stop blocks on inference
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Voice command endpoints
	mux.HandleFunc("/voice/start", h.withMetrics("/voice/start", h.handleVoiceStart))
	mux.HandleFunc("/voice/stop", h.withMetrics("/voice/stop", h.handleVoiceStop))
	mux.HandleFunc("/voice/mode", h.withMetrics("/voice/mode", h.handleVoiceMode))
	mux.HandleFunc("/voice/reset", h.withMetrics("/voice/reset", h.handleVoiceReset))
	mux.HandleFunc("/voice/transcribe", h.withMetrics("/voice/transcribe", h.handleVoiceTranscribe))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint,
			strconv.Itoa(ww.statusCode), time.Since(startTime))
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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeResponse renders a daemon response. Command failures stay
// protocol-level: the HTTP status is 200 and the body carries the
// error, same as the socket transport.
func writeResponse(w http.ResponseWriter, resp daemon.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleVoiceStart implements POST /voice/start
func (h *HTTPServer) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := daemon.Command{Type: daemon.CmdStart}

	// The body is optional; defaults come from the daemon's config.
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		var params struct {
			InputDevice string `json:"input_device"`
			SampleRate  int    `json:"sample_rate"`
		}
		if err := json.Unmarshal(body, &params); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		cmd.InputDevice = params.InputDevice
		cmd.SampleRate = params.SampleRate
	}

	writeResponse(w, h.daemon.Dispatch(r.Context(), cmd))
}

// handleVoiceStop implements POST /voice/stop
func (h *HTTPServer) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeResponse(w, h.daemon.Dispatch(r.Context(), daemon.Command{Type: daemon.CmdStop}))
}

// handleVoiceMode implements POST /voice/mode
func (h *HTTPServer) handleVoiceMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params struct {
		Mode daemon.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || params.Mode == "" {
		http.Error(w, "Body must name a mode", http.StatusBadRequest)
		return
	}

	writeResponse(w, h.daemon.Dispatch(r.Context(), daemon.Command{
		Type: daemon.CmdMode,
		Mode: params.Mode,
	}))
}

// handleVoiceReset implements POST /voice/reset
func (h *HTTPServer) handleVoiceReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeResponse(w, h.daemon.Dispatch(r.Context(), daemon.Command{Type: daemon.CmdReset}))
}

// handleVoiceTranscribe implements POST /voice/transcribe. The body
// is multipart form data: an "audio" file (WAV or raw PCM-16) plus
// optional model, sample_rate, prompt and language fields.
func (h *HTTPServer) handleVoiceTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing 'audio' file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read audio data", http.StatusBadRequest)
		return
	}

	cmd := daemon.Command{
		Type:  daemon.CmdTranscribeFile,
		Audio: data,
		Params: transcribe.Params{
			Model:    r.FormValue("model"),
			Prompt:   r.FormValue("prompt"),
			Language: r.FormValue("language"),
		},
	}

	if rateStr := r.FormValue("sample_rate"); rateStr != "" {
		rate, err := strconv.Atoi(rateStr)
		if err != nil {
			http.Error(w, "Invalid sample_rate field", http.StatusBadRequest)
			return
		}
		cmd.SampleRate = rate
	}

	writeResponse(w, h.daemon.Dispatch(r.Context(), cmd))
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"recording": h.daemon.Recording(),
		"service": map[string]interface{}{
			"name":    "voiced",
			"version": "1.0.0",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
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
		"service": "Voice Transcription Daemon",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /voice/start":      "Start a recording session",
			"POST /voice/stop":       "Stop recording and transcribe",
			"POST /voice/mode":       "Change the transcription mode",
			"POST /voice/reset":      "Reset daemon state",
			"POST /voice/transcribe": "Transcribe an uploaded audio file",
			"GET /health":            "Service health check",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
