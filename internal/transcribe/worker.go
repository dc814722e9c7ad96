package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Worker owns the engine and serializes access to it. Submit is a
// synchronous hand-off over an unbuffered channel to a single loop
// goroutine, so at most one job is ever in flight.
type Worker struct {
	engine   Engine
	requests chan workerRequest

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type workerRequest struct {
	ctx   context.Context
	job   *Job
	reply chan workerReply
}

type workerReply struct {
	result *Result
	err    error
}

// NewWorker creates a worker around the given engine
func NewWorker(engine Engine) *Worker {
	return &Worker{
		engine:   engine,
		requests: make(chan workerRequest),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker loop
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop shuts the worker down after any in-flight job completes
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

func (w *Worker) run() {
	defer close(w.stopped)

	for {
		select {
		case req := <-w.requests:
			result, err := w.process(req.ctx, req.job)
			req.reply <- workerReply{result: result, err: err}
		case <-w.done:
			return
		}
	}
}

// Submit hands the job to the worker and blocks until it completes.
// Callers queue on the hand-off channel when a job is in flight.
func (w *Worker) Submit(ctx context.Context, job *Job) (*Result, error) {
	req := workerRequest{
		ctx:   ctx,
		job:   job,
		reply: make(chan workerReply, 1),
	}

	select {
	case w.requests <- req:
	case <-w.done:
		return nil, fmt.Errorf("worker is shut down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reply := <-req.reply
	return reply.result, reply.err
}

func (w *Worker) process(ctx context.Context, job *Job) (*Result, error) {
	// An empty job short-circuits: nothing to transcribe is a valid
	// outcome, not an engine call.
	if len(job.Samples) == 0 {
		return &Result{Content: "", Timings: []Timing{}}, nil
	}

	raw, err := w.engine.Process(ctx, job)
	if err != nil {
		return nil, err
	}

	return assemble(raw), nil
}

// assemble filters non-speech marker segments and joins the rest into
// the result content. Whisper models emit markers like [BLANK_AUDIO]
// or [MUSIC] as bracketed segment text.
func assemble(raw []Timing) *Result {
	timings := make([]Timing, 0, len(raw))
	var parts []string

	for _, t := range raw {
		text := strings.TrimSpace(t.Text)
		if text == "" || strings.HasPrefix(text, "[") {
			continue
		}
		t.Text = text
		timings = append(timings, t)
		parts = append(parts, text)
	}

	return &Result{
		Content: strings.Join(parts, " "),
		Timings: timings,
	}
}
