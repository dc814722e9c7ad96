package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dev-msp/untitled-voice-assistant/internal/audio"
	"github.com/dev-msp/untitled-voice-assistant/internal/metrics"
	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
	"github.com/dev-msp/untitled-voice-assistant/internal/vad"
)

// Options configures the daemon's capture pipeline defaults
type Options struct {
	InputDevice    string
	SampleRate     int
	BufferCapacity int // ring capacity in samples
	WindowSize     int // VAD window in samples
	VADThreshold   float64
	Hangover       int // silent windows that close a region
	DefaultMode    Mode
	PollInterval   time.Duration
}

// request pairs a command with its reply channel. The reply channel
// is buffered so the loop never blocks on a departed caller.
type request struct {
	cmd   Command
	reply chan Response
}

// Daemon owns the recording state machine. All commands funnel
// through one channel into one loop goroutine, so state transitions
// are serialized by construction and need no locks.
type Daemon struct {
	opts    Options
	opener  audio.Opener
	worker  *transcribe.Worker
	metrics *metrics.Metrics
	logger  *slog.Logger

	requests chan request

	// Loop-owned state
	mode    Mode
	session *session

	recording atomic.Bool
}

// session is one active recording: the capture source, its ring, the
// segmenter, and the pump goroutine that connects them.
type session struct {
	id         string
	startedAt  time.Time
	sampleRate int
	ring       *audio.Ring
	source     audio.Source
	segmenter  *vad.Segmenter

	stop chan struct{}
	done chan struct{}
}

// New creates a daemon. Run must be called before Dispatch.
func New(opts Options, opener audio.Opener, worker *transcribe.Worker, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}
	if opts.BufferCapacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", opts.BufferCapacity)
	}
	if opts.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", opts.WindowSize)
	}
	if opts.Hangover < 1 {
		return nil, fmt.Errorf("hangover must be at least 1, got %d", opts.Hangover)
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeLiveTyping
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	return &Daemon{
		opts:     opts,
		opener:   opener,
		worker:   worker,
		metrics:  m,
		logger:   logger,
		requests: make(chan request),
		mode:     opts.DefaultMode,
	}, nil
}

// Recording reports whether a session is active. Safe from any
// goroutine; used by health reporting.
func (d *Daemon) Recording() bool {
	return d.recording.Load()
}

// Run consumes commands until ctx is cancelled. An active session is
// aborted at shutdown without transcription.
func (d *Daemon) Run(ctx context.Context) {
	d.logger.Info("daemon loop started", "default_mode", string(d.mode))

	for {
		select {
		case <-ctx.Done():
			if d.session != nil {
				d.abortSession()
			}
			d.logger.Info("daemon loop stopped")
			return

		case req := <-d.requests:
			resp := d.handle(ctx, req.cmd)

			outcome := "ok"
			if resp.IsError() {
				outcome = "error"
			}
			d.metrics.RecordCommand(req.cmd.Type, outcome)

			req.reply <- resp
		}
	}
}

// Dispatch submits one command and blocks for its response. Commands
// from every transport serialize here.
func (d *Daemon) Dispatch(ctx context.Context, cmd Command) Response {
	req := request{cmd: cmd, reply: make(chan Response, 1)}

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return NewError(fmt.Errorf("daemon unavailable: %v", ctx.Err()))
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return NewError(fmt.Errorf("daemon unavailable: %v", ctx.Err()))
	}
}

func (d *Daemon) handle(ctx context.Context, cmd Command) Response {
	switch cmd.Type {
	case CmdStart:
		return d.handleStart(cmd)
	case CmdStop:
		return d.handleStop(ctx)
	case CmdMode:
		return d.handleMode(cmd)
	case CmdReset:
		return d.handleReset()
	case CmdTranscribeFile:
		return d.handleTranscribeFile(ctx, cmd)
	default:
		return NewError(fmt.Errorf("%w: unknown command type %q", ErrBadCommand, cmd.Type))
	}
}

func (d *Daemon) handleStart(cmd Command) Response {
	if d.session != nil {
		return NewError(ErrAlreadyRecording)
	}

	device := cmd.InputDevice
	if device == "" {
		device = d.opts.InputDevice
	}

	rate := cmd.SampleRate
	if rate == 0 {
		rate = d.opts.SampleRate
	}
	if rate != d.opts.SampleRate {
		return NewError(fmt.Errorf("%w: engine requires %d Hz, got %d",
			audio.ErrUnsupportedSampleRate, d.opts.SampleRate, rate))
	}

	detector, err := vad.NewDetector(d.opts.VADThreshold)
	if err != nil {
		return NewError(err)
	}
	segmenter, err := vad.NewSegmenter(detector, d.opts.WindowSize, d.opts.Hangover)
	if err != nil {
		return NewError(err)
	}

	ring := audio.NewRing(d.opts.BufferCapacity)

	source, err := d.opener.Open(device, rate, ring)
	if err != nil {
		return NewError(err)
	}
	if err := source.Start(); err != nil {
		if closeErr := source.Close(); closeErr != nil {
			d.logger.Warn("failed to close source after start failure", "error", closeErr)
		}
		return NewError(err)
	}

	s := &session{
		id:         uuid.NewString(),
		startedAt:  time.Now(),
		sampleRate: rate,
		ring:       ring,
		source:     source,
		segmenter:  segmenter,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.pump(s)

	d.session = s
	d.recording.Store(true)
	d.metrics.RecordSessionStart()
	d.logger.Info("recording started", "session_id", s.id, "device", device, "sample_rate", rate)

	return Ack()
}

func (d *Daemon) handleStop(ctx context.Context) Response {
	if d.session == nil {
		return NewError(ErrNotRecording)
	}

	s := d.session
	d.session = nil
	d.recording.Store(false)

	// Quiesce the pump before the loop touches the ring; ring and
	// segmenter access strictly alternates between the two.
	close(s.stop)
	<-s.done

	if err := s.source.Close(); err != nil {
		d.logger.Warn("failed to close capture source", "session_id", s.id, "error", err)
	}

	d.drain(s)
	s.segmenter.Flush()

	segStats := s.segmenter.GetStats()
	d.metrics.SegmentsFlushed.Add(float64(segStats.RegionsFlushed))

	ringStats := s.ring.Stats()
	d.metrics.RecordCapture(int(ringStats.Pushed), int(ringStats.Dropped))
	if ringStats.Dropped > 0 {
		d.logger.Warn("capture buffer overflowed during session",
			"session_id", s.id, "dropped_samples", ringStats.Dropped)
	}

	duration := time.Since(s.startedAt)
	d.metrics.RecordSessionStop(duration)

	samples := s.segmenter.Take()
	d.logger.Info("recording stopped",
		"session_id", s.id,
		"duration", duration,
		"speech_samples", len(samples))

	job := transcribe.NewJob(samples, s.sampleRate, transcribe.Params{})

	jobStart := time.Now()
	result, err := d.worker.Submit(ctx, job)
	d.metrics.RecordJob(err == nil, time.Since(jobStart))
	if err != nil {
		d.logger.Error("transcription failed", "job_id", job.ID, "error", err)
		return NewError(fmt.Errorf("%w: %v", ErrEngineFailed, err))
	}

	return NewTranscription(result.Content, d.mode, result.Timings)
}

func (d *Daemon) handleMode(cmd Command) Response {
	if d.session != nil {
		return NewError(fmt.Errorf("%w: cannot change mode while recording", ErrAlreadyRecording))
	}

	d.mode = cmd.Mode
	d.logger.Info("mode changed", "mode", string(d.mode))
	return NewModeChanged(d.mode)
}

func (d *Daemon) handleReset() Response {
	if d.session != nil {
		d.abortSession()
	}
	d.mode = d.opts.DefaultMode
	d.logger.Info("daemon state reset", "mode", string(d.mode))
	return Ack()
}

func (d *Daemon) handleTranscribeFile(ctx context.Context, cmd Command) Response {
	samples, rate, err := d.decodeUpload(cmd.Audio, cmd.SampleRate)
	if err != nil {
		return NewError(err)
	}

	if rate != d.opts.SampleRate {
		return NewError(fmt.Errorf("%w: engine requires %d Hz, got %d",
			audio.ErrUnsupportedSampleRate, d.opts.SampleRate, rate))
	}

	// The whole clip is one region; uploads skip the segmenter.
	job := transcribe.NewJob(samples, rate, cmd.Params)

	jobStart := time.Now()
	result, err := d.worker.Submit(ctx, job)
	d.metrics.RecordJob(err == nil, time.Since(jobStart))
	if err != nil {
		d.logger.Error("file transcription failed", "job_id", job.ID, "error", err)
		return NewError(fmt.Errorf("%w: %v", ErrEngineFailed, err))
	}

	return NewTranscription(result.Content, d.mode, result.Timings)
}

func (d *Daemon) decodeUpload(data []byte, declaredRate int) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty audio payload", ErrDecodeFailed)
	}

	if audio.IsWAV(data) {
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return samples, rate, nil
	}

	samples, err := audio.DecodePCM16(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	rate := declaredRate
	if rate == 0 {
		rate = d.opts.SampleRate
	}
	return samples, rate, nil
}

// abortSession tears a session down without transcription. Used at
// shutdown and on Reset.
func (d *Daemon) abortSession() {
	s := d.session
	d.session = nil
	d.recording.Store(false)

	close(s.stop)
	<-s.done

	if err := s.source.Close(); err != nil {
		d.logger.Warn("failed to close capture source", "session_id", s.id, "error", err)
	}

	d.metrics.RecordSessionStop(time.Since(s.startedAt))
	d.logger.Info("recording aborted", "session_id", s.id)
}

// pump moves full windows from the ring through the segmenter while
// the session is live. It exits when the session's stop channel
// closes; after that only the daemon loop touches the ring.
func (d *Daemon) pump(s *session) {
	defer close(s.done)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for {
				window := s.ring.ReadWindow(d.opts.WindowSize)
				if window == nil {
					break
				}
				speech, err := s.segmenter.Feed(window)
				if err != nil {
					d.logger.Error("segmenter rejected window", "session_id", s.id, "error", err)
					return
				}
				d.metrics.RecordWindow(speech)
			}
		}
	}
}

// drain pushes every remaining buffered sample through the segmenter.
// A trailing partial window is zero-padded so no captured speech is
// lost at the cut.
func (d *Daemon) drain(s *session) {
	for {
		window := s.ring.ReadWindow(d.opts.WindowSize)
		if window == nil {
			break
		}
		speech, err := s.segmenter.Feed(window)
		if err != nil {
			d.logger.Error("segmenter rejected window", "session_id", s.id, "error", err)
			return
		}
		d.metrics.RecordWindow(speech)
	}

	rest := s.ring.DrainAll()
	if len(rest) == 0 {
		return
	}

	padded := make([]float32, d.opts.WindowSize)
	copy(padded, rest)
	speech, err := s.segmenter.Feed(padded)
	if err != nil {
		d.logger.Error("segmenter rejected window", "session_id", s.id, "error", err)
		return
	}
	d.metrics.RecordWindow(speech)
}
