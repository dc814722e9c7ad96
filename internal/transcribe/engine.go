package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dev-msp/untitled-voice-assistant/internal/audio"
)

// Engine turns audio samples into timed text segments
type Engine interface {
	// Process runs inference on the job and returns ordered segments.
	Process(ctx context.Context, job *Job) ([]Timing, error)

	// Ping verifies the engine is reachable and its model is loaded.
	Ping(ctx context.Context) error
}

// ServerConfig contains inference server client configuration
type ServerConfig struct {
	Endpoint   string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int

	// RetryHook is called once per retried request, if set.
	RetryHook func()
}

// ServerEngine is an HTTP client for a whisper-server style inference
// endpoint: WAV upload via multipart form, JSON segments back.
type ServerEngine struct {
	config     ServerConfig
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// EngineStats represents engine client statistics
type EngineStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
}

// serverResponse is the inference server's reply shape
type serverResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// NewServerEngine creates an engine client for the given server
func NewServerEngine(config ServerConfig) (*ServerEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &ServerEngine{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Ping checks the server's health endpoint. A failure at startup is
// fatal to the daemon.
func (e *ServerEngine) Ping(ctx context.Context) error {
	url := strings.TrimSuffix(e.config.Endpoint, "/inference") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference server unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Process uploads the job's audio and returns the decoded segments,
// retrying transient failures with exponential backoff.
func (e *ServerEngine) Process(ctx context.Context, job *Job) ([]Timing, error) {
	e.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.incrementTotalRetries()
			if e.config.RetryHook != nil {
				e.config.RetryHook()
			}

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		timings, err := e.doRequest(ctx, job)
		if err == nil {
			e.incrementSuccessRequests()
			return timings, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	e.incrementFailedRequests()
	return nil, fmt.Errorf("inference failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

func (e *ServerEngine) doRequest(ctx context.Context, job *Job) ([]Timing, error) {
	body, contentType, err := e.createMultipartRequest(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded serverResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	timings := make([]Timing, 0, len(decoded.Segments))
	for _, seg := range decoded.Segments {
		timings = append(timings, Timing{
			StartMS: uint64(seg.Start * 1000),
			EndMS:   uint64(seg.End * 1000),
			Text:    seg.Text,
		})
	}

	// Servers that return plain text without segment detail still
	// yield a single full-length segment.
	if len(timings) == 0 && decoded.Text != "" {
		timings = append(timings, Timing{
			StartMS: 0,
			EndMS:   uint64(job.Duration().Milliseconds()),
			Text:    decoded.Text,
		})
	}

	return timings, nil
}

func (e *ServerEngine) createMultipartRequest(job *Job) (io.Reader, string, error) {
	wavData, err := audio.EncodeWAV(job.Samples, job.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", job.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"request_id":      job.ID,
		"sample_rate":     fmt.Sprintf("%d", job.SampleRate),
		"duration":        fmt.Sprintf("%.3f", job.Duration().Seconds()),
		"response_format": "json",
	}

	model := job.Params.Model
	if model == "" {
		model = e.config.Model
	}
	if model != "" {
		fields["model"] = model
	}
	if job.Params.Language != "" {
		fields["language"] = job.Params.Language
	}
	if job.Params.Prompt != "" {
		fields["prompt"] = job.Params.Prompt
	}
	if job.Params.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%.2f", job.Params.Temperature)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether the request should be retried.
// Server errors, rate limiting and connection failures are transient.
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	if strings.Contains(errStr, "HTTP error 5") {
		return true
	}

	if strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (e *ServerEngine) incrementTotalRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
}

func (e *ServerEngine) incrementSuccessRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successRequests++
}

func (e *ServerEngine) incrementFailedRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedRequests++
}

func (e *ServerEngine) incrementTotalRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRetries++
}

// GetStats returns current engine client statistics
func (e *ServerEngine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalRequests > 0 {
		successRate = float64(e.successRequests) / float64(e.totalRequests) * 100
	}

	return EngineStats{
		TotalRequests:   e.totalRequests,
		SuccessRequests: e.successRequests,
		FailedRequests:  e.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    e.totalRetries,
	}
}
