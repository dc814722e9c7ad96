package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dev-msp/untitled-voice-assistant/internal/audio"
	"github.com/dev-msp/untitled-voice-assistant/internal/metrics"
	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
)

const (
	testRate       = 16000
	testWindowSize = 160
)

// stubEngine echoes how many samples it received
type stubEngine struct {
	err     error
	calls   int32
	samples int32
}

func (s *stubEngine) Process(ctx context.Context, job *transcribe.Job) ([]transcribe.Timing, error) {
	atomic.AddInt32(&s.calls, 1)
	atomic.StoreInt32(&s.samples, int32(len(job.Samples)))
	if s.err != nil {
		return nil, s.err
	}
	return []transcribe.Timing{
		{StartMS: 0, EndMS: uint64(job.Duration().Milliseconds()), Text: "hello world"},
	}, nil
}

func (s *stubEngine) Ping(ctx context.Context) error { return nil }

// stubSource pushes a canned sample burst into the ring on Start
type stubSource struct {
	ring    *audio.Ring
	samples []float32
	closed  atomic.Bool
}

func (s *stubSource) Start() error {
	s.ring.Push(s.samples)
	return nil
}

func (s *stubSource) Close() error {
	s.closed.Store(true)
	return nil
}

// stubOpener hands out stub sources and tracks open calls
type stubOpener struct {
	samples []float32
	openErr error
	opens   int32
	last    *stubSource
}

func (o *stubOpener) Open(deviceName string, sampleRate int, ring *audio.Ring) (audio.Source, error) {
	atomic.AddInt32(&o.opens, 1)
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.last = &stubSource{ring: ring, samples: o.samples}
	return o.last, nil
}

// speechBurst yields windows loud enough to trip the detector,
// bracketed by silence.
func speechBurst(speechWindows int) []float32 {
	var out []float32
	silent := make([]float32, 2*testWindowSize)
	out = append(out, silent...)
	for i := 0; i < speechWindows*testWindowSize; i++ {
		if i%2 == 0 {
			out = append(out, 0.5)
		} else {
			out = append(out, -0.5)
		}
	}
	out = append(out, silent...)
	return out
}

func testDaemon(t *testing.T, opener audio.Opener, engine transcribe.Engine) *Daemon {
	t.Helper()

	worker := transcribe.NewWorker(engine)
	worker.Start()
	t.Cleanup(worker.Stop)

	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := New(Options{
		SampleRate:     testRate,
		BufferCapacity: testRate * 5,
		WindowSize:     testWindowSize,
		VADThreshold:   0.1,
		Hangover:       2,
		DefaultMode:    ModeStandard,
		PollInterval:   time.Millisecond,
	}, opener, worker, m, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return d
}

func dispatch(t *testing.T, d *Daemon, cmd Command) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.Dispatch(ctx, cmd)
}

func TestBasicRecordingCycle(t *testing.T) {
	engine := &stubEngine{}
	opener := &stubOpener{samples: speechBurst(10)}
	d := testDaemon(t, opener, engine)

	resp := dispatch(t, d, Command{Type: CmdStart})
	if resp.Type != RespAck {
		t.Fatalf("start response = %+v, want ack", resp)
	}
	if !d.Recording() {
		t.Error("Recording() = false after start")
	}

	// Give the pump a moment to move windows through the segmenter.
	time.Sleep(20 * time.Millisecond)

	resp = dispatch(t, d, Command{Type: CmdStop})
	if resp.Type != RespTranscription {
		t.Fatalf("stop response = %+v, want transcription", resp)
	}
	if d.Recording() {
		t.Error("Recording() = true after stop")
	}

	data, ok := resp.Data.(TranscriptionData)
	if !ok {
		t.Fatalf("stop response data = %T, want TranscriptionData", resp.Data)
	}
	if data.Content != "hello world" {
		t.Errorf("Content = %q, want 'hello world'", data.Content)
	}
	if data.Mode != ModeStandard {
		t.Errorf("Mode = %q, want standard", data.Mode)
	}

	// All ten speech windows must reach the engine.
	if got := atomic.LoadInt32(&engine.samples); got < 10*testWindowSize {
		t.Errorf("engine received %d samples, want at least %d", got, 10*testWindowSize)
	}

	if !opener.last.closed.Load() {
		t.Error("capture source not closed after stop")
	}
}

func TestDoubleStartRejected(t *testing.T) {
	opener := &stubOpener{samples: speechBurst(2)}
	d := testDaemon(t, opener, &stubEngine{})

	if resp := dispatch(t, d, Command{Type: CmdStart}); resp.Type != RespAck {
		t.Fatalf("first start = %+v, want ack", resp)
	}

	resp := dispatch(t, d, Command{Type: CmdStart})
	if resp.Type != RespError {
		t.Fatalf("second start = %+v, want error", resp)
	}

	// The failed start must not have opened another source.
	if opens := atomic.LoadInt32(&opener.opens); opens != 1 {
		t.Errorf("opener called %d times, want 1", opens)
	}
	if !d.Recording() {
		t.Error("original session should still be recording")
	}
}

func TestStopWithoutStart(t *testing.T) {
	d := testDaemon(t, &stubOpener{}, &stubEngine{})

	resp := dispatch(t, d, Command{Type: CmdStop})
	if resp.Type != RespError {
		t.Fatalf("stop response = %+v, want error", resp)
	}
	if resp.Message != ErrNotRecording.Error() {
		t.Errorf("error message = %q, want %q", resp.Message, ErrNotRecording.Error())
	}
}

func TestStartFailureLeavesDaemonIdle(t *testing.T) {
	opener := &stubOpener{openErr: fmt.Errorf("%w: no input device matching \"bogus\"", audio.ErrDeviceNotFound)}
	d := testDaemon(t, opener, &stubEngine{})

	resp := dispatch(t, d, Command{Type: CmdStart, InputDevice: "bogus"})
	if resp.Type != RespError {
		t.Fatalf("start response = %+v, want error", resp)
	}
	if d.Recording() {
		t.Error("Recording() = true after failed start")
	}

	// Daemon stays usable: a later start on a fixed opener succeeds.
	opener.openErr = nil
	opener.samples = speechBurst(1)
	if resp := dispatch(t, d, Command{Type: CmdStart}); resp.Type != RespAck {
		t.Errorf("start after recovery = %+v, want ack", resp)
	}
}

func TestUnsupportedSampleRate(t *testing.T) {
	d := testDaemon(t, &stubOpener{}, &stubEngine{})

	resp := dispatch(t, d, Command{Type: CmdStart, SampleRate: 44100})
	if resp.Type != RespError {
		t.Fatalf("start response = %+v, want error", resp)
	}
}

func TestEngineFailureSurfacesAsError(t *testing.T) {
	engine := &stubEngine{err: fmt.Errorf("model exploded")}
	opener := &stubOpener{samples: speechBurst(3)}
	d := testDaemon(t, opener, engine)

	dispatch(t, d, Command{Type: CmdStart})
	time.Sleep(20 * time.Millisecond)

	resp := dispatch(t, d, Command{Type: CmdStop})
	if resp.Type != RespError {
		t.Fatalf("stop response = %+v, want error", resp)
	}

	// The failure ends the session; the daemon is idle again.
	if d.Recording() {
		t.Error("Recording() = true after failed stop")
	}
	if resp := dispatch(t, d, Command{Type: CmdStop}); resp.Type != RespError {
		t.Errorf("second stop = %+v, want not-recording error", resp)
	}
}

func TestSilentSessionYieldsEmptyTranscription(t *testing.T) {
	engine := &stubEngine{}
	opener := &stubOpener{samples: make([]float32, 20*testWindowSize)}
	d := testDaemon(t, opener, engine)

	dispatch(t, d, Command{Type: CmdStart})
	time.Sleep(20 * time.Millisecond)

	resp := dispatch(t, d, Command{Type: CmdStop})
	if resp.Type != RespTranscription {
		t.Fatalf("stop response = %+v, want transcription", resp)
	}

	data := resp.Data.(TranscriptionData)
	if data.Content != "" {
		t.Errorf("Content = %q, want empty", data.Content)
	}
	if len(data.Timings) != 0 {
		t.Errorf("Timings = %v, want none", data.Timings)
	}

	// No speech means no engine call.
	if calls := atomic.LoadInt32(&engine.calls); calls != 0 {
		t.Errorf("engine called %d times, want 0", calls)
	}
}

func TestTrailingSpeechSurvivesStop(t *testing.T) {
	// Speech runs right up to the stop with no trailing silence, so
	// only the forced flush can save the region.
	var samples []float32
	for i := 0; i < 5*testWindowSize; i++ {
		if i%2 == 0 {
			samples = append(samples, 0.5)
		} else {
			samples = append(samples, -0.5)
		}
	}

	engine := &stubEngine{}
	d := testDaemon(t, &stubOpener{samples: samples}, engine)

	dispatch(t, d, Command{Type: CmdStart})
	time.Sleep(20 * time.Millisecond)

	resp := dispatch(t, d, Command{Type: CmdStop})
	if resp.Type != RespTranscription {
		t.Fatalf("stop response = %+v, want transcription", resp)
	}

	if got := atomic.LoadInt32(&engine.samples); got != 5*testWindowSize {
		t.Errorf("engine received %d samples, want %d", got, 5*testWindowSize)
	}
}

func TestModeChange(t *testing.T) {
	opener := &stubOpener{samples: speechBurst(1)}
	d := testDaemon(t, opener, &stubEngine{})

	resp := dispatch(t, d, Command{Type: CmdMode, Mode: ModeLiveTyping})
	if resp.Type != RespNewMode {
		t.Fatalf("mode response = %+v, want new_mode", resp)
	}
	if resp.Data.(Mode) != ModeLiveTyping {
		t.Errorf("mode = %v, want live_typing", resp.Data)
	}

	// Mode changes are rejected while recording.
	dispatch(t, d, Command{Type: CmdStart})
	resp = dispatch(t, d, Command{Type: CmdMode, Mode: ModeStandard})
	if resp.Type != RespError {
		t.Errorf("mode change while recording = %+v, want error", resp)
	}
}

func TestModeAppearsInTranscription(t *testing.T) {
	opener := &stubOpener{samples: speechBurst(3)}
	d := testDaemon(t, opener, &stubEngine{})

	dispatch(t, d, Command{Type: CmdMode, Mode: ModeLiveTyping})
	dispatch(t, d, Command{Type: CmdStart})
	time.Sleep(20 * time.Millisecond)

	resp := dispatch(t, d, Command{Type: CmdStop})
	data := resp.Data.(TranscriptionData)
	if data.Mode != ModeLiveTyping {
		t.Errorf("Mode = %q, want live_typing", data.Mode)
	}
}

func TestResetAbortsSessionAndRestoresDefaults(t *testing.T) {
	engine := &stubEngine{}
	opener := &stubOpener{samples: speechBurst(3)}
	d := testDaemon(t, opener, engine)

	dispatch(t, d, Command{Type: CmdMode, Mode: ModeLiveTyping})
	dispatch(t, d, Command{Type: CmdStart})

	resp := dispatch(t, d, Command{Type: CmdReset})
	if resp.Type != RespAck {
		t.Fatalf("reset response = %+v, want ack", resp)
	}
	if d.Recording() {
		t.Error("Recording() = true after reset")
	}
	if !opener.last.closed.Load() {
		t.Error("capture source not closed by reset")
	}

	// Aborted audio is discarded, never transcribed.
	if calls := atomic.LoadInt32(&engine.calls); calls != 0 {
		t.Errorf("engine called %d times after reset, want 0", calls)
	}

	// Default mode is restored.
	dispatch(t, d, Command{Type: CmdStart})
	time.Sleep(20 * time.Millisecond)
	stop := dispatch(t, d, Command{Type: CmdStop})
	if data := stop.Data.(TranscriptionData); data.Mode != ModeStandard {
		t.Errorf("Mode after reset = %q, want standard", data.Mode)
	}
}

func TestTranscribeFileWAV(t *testing.T) {
	engine := &stubEngine{}
	d := testDaemon(t, &stubOpener{}, engine)

	samples := speechBurst(4)
	wavData, err := audio.EncodeWAV(samples, testRate)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	resp := dispatch(t, d, Command{Type: CmdTranscribeFile, Audio: wavData})
	if resp.Type != RespTranscription {
		t.Fatalf("transcribe_file response = %+v, want transcription", resp)
	}

	// Uploads bypass the segmenter: the whole clip reaches the engine.
	if got := atomic.LoadInt32(&engine.samples); got != int32(len(samples)) {
		t.Errorf("engine received %d samples, want %d", got, len(samples))
	}
}

func TestTranscribeFileRawPCM(t *testing.T) {
	engine := &stubEngine{}
	d := testDaemon(t, &stubOpener{}, engine)

	pcm := audio.EncodePCM16(speechBurst(2))

	resp := dispatch(t, d, Command{Type: CmdTranscribeFile, Audio: pcm, SampleRate: testRate})
	if resp.Type != RespTranscription {
		t.Fatalf("transcribe_file response = %+v, want transcription", resp)
	}
}

func TestTranscribeFileWrongRate(t *testing.T) {
	d := testDaemon(t, &stubOpener{}, &stubEngine{})

	wavData, err := audio.EncodeWAV(speechBurst(2), 44100)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	resp := dispatch(t, d, Command{Type: CmdTranscribeFile, Audio: wavData})
	if resp.Type != RespError {
		t.Fatalf("transcribe_file response = %+v, want error", resp)
	}
}

func TestTranscribeFileEmptyPayload(t *testing.T) {
	d := testDaemon(t, &stubOpener{}, &stubEngine{})

	resp := dispatch(t, d, Command{Type: CmdTranscribeFile})
	if resp.Type != RespError {
		t.Fatalf("transcribe_file response = %+v, want error", resp)
	}
}

func TestTranscribeFileWhileRecording(t *testing.T) {
	engine := &stubEngine{}
	opener := &stubOpener{samples: speechBurst(2)}
	d := testDaemon(t, opener, engine)

	dispatch(t, d, Command{Type: CmdStart})

	wavData, _ := audio.EncodeWAV(speechBurst(2), testRate)
	resp := dispatch(t, d, Command{Type: CmdTranscribeFile, Audio: wavData})
	if resp.Type != RespTranscription {
		t.Fatalf("transcribe_file while recording = %+v, want transcription", resp)
	}

	// The recording session is untouched.
	if !d.Recording() {
		t.Error("Recording() = false after concurrent file upload")
	}
}

func TestShutdownAbortsSession(t *testing.T) {
	opener := &stubOpener{samples: speechBurst(2)}

	worker := transcribe.NewWorker(&stubEngine{})
	worker.Start()
	defer worker.Stop()

	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := New(Options{
		SampleRate:     testRate,
		BufferCapacity: testRate,
		WindowSize:     testWindowSize,
		VADThreshold:   0.1,
		Hangover:       2,
		PollInterval:   time.Millisecond,
	}, opener, worker, m, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	dispatch(t, d, Command{Type: CmdStart})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !opener.last.closed.Load() {
		t.Error("capture source not closed at shutdown")
	}
}
