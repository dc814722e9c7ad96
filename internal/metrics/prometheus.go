package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon
type Metrics struct {
	// Command loop metrics
	CommandsTotal *prometheus.CounterVec

	// Recording session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram

	// Capture buffer metrics
	SamplesCaptured prometheus.Counter
	SamplesDropped  prometheus.Counter

	// VAD metrics
	WindowsAnalyzed prometheus.Counter
	SpeechWindows   prometheus.Counter
	SegmentsFlushed prometheus.Counter

	// Transcription metrics
	JobsSubmitted prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobDuration   prometheus.Histogram
	EngineRetries prometheus.Counter

	// HTTP transport metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates metrics registered against the given registry
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiced_commands_total",
				Help: "Total number of daemon commands processed",
			},
			[]string{"type", "outcome"},
		),
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_sessions_started_total",
				Help: "Total number of recording sessions started",
			},
		),
		SessionsStopped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_sessions_stopped_total",
				Help: "Total number of recording sessions stopped",
			},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voiced_session_duration_seconds",
				Help:    "Recording session duration in seconds",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		SamplesCaptured: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_samples_captured_total",
				Help: "Total number of audio samples pushed into the capture buffer",
			},
		),
		SamplesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_samples_dropped_total",
				Help: "Total number of samples overwritten before consumption (buffer overflow)",
			},
		),
		WindowsAnalyzed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_vad_windows_total",
				Help: "Total number of audio windows analyzed by the VAD",
			},
		),
		SpeechWindows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_vad_speech_windows_total",
				Help: "Total number of windows classified as speech",
			},
		),
		SegmentsFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_vad_segments_flushed_total",
				Help: "Total number of speech regions flushed by the segmenter",
			},
		),
		JobsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_transcription_jobs_submitted_total",
				Help: "Total number of transcription jobs submitted to the worker",
			},
		),
		JobsSucceeded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_transcription_jobs_succeeded_total",
				Help: "Total number of transcription jobs completed successfully",
			},
		),
		JobsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_transcription_jobs_failed_total",
				Help: "Total number of transcription jobs that failed",
			},
		),
		JobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voiced_transcription_job_duration_seconds",
				Help:    "Transcription job duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		EngineRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voiced_engine_retries_total",
				Help: "Total number of retried inference requests",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiced_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiced_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordCommand records a processed command with its outcome
func (m *Metrics) RecordCommand(cmdType, outcome string) {
	m.CommandsTotal.WithLabelValues(cmdType, outcome).Inc()
}

// RecordSessionStart records a recording session start
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
}

// RecordSessionStop records a recording session stop with its duration
func (m *Metrics) RecordSessionStop(duration time.Duration) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordCapture records samples pushed into the ring and samples lost
// to overwrite.
func (m *Metrics) RecordCapture(pushed, dropped int) {
	m.SamplesCaptured.Add(float64(pushed))
	if dropped > 0 {
		m.SamplesDropped.Add(float64(dropped))
	}
}

// RecordWindow records a VAD window classification
func (m *Metrics) RecordWindow(speech bool) {
	m.WindowsAnalyzed.Inc()
	if speech {
		m.SpeechWindows.Inc()
	}
}

// RecordSegmentFlush records a flushed speech region
func (m *Metrics) RecordSegmentFlush() {
	m.SegmentsFlushed.Inc()
}

// RecordJob records a transcription job outcome with its duration
func (m *Metrics) RecordJob(success bool, duration time.Duration) {
	m.JobsSubmitted.Inc()
	if success {
		m.JobsSucceeded.Inc()
	} else {
		m.JobsFailed.Inc()
	}
	m.JobDuration.Observe(duration.Seconds())
}

// RecordEngineRetry records a retried inference request
func (m *Metrics) RecordEngineRetry() {
	m.EngineRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
