package transcribe

import (
	"time"

	"github.com/google/uuid"
)

// Params carries per-request transcription parameters
type Params struct {
	Model       string  `json:"model,omitempty"`
	Language    string  `json:"language,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Job is one unit of work for the transcription engine: the speech
// samples collected from a recording session or a file upload.
type Job struct {
	ID         string
	Samples    []float32
	SampleRate int
	Params     Params
	CreatedAt  time.Time
}

// NewJob creates a job with a fresh identifier
func NewJob(samples []float32, sampleRate int, params Params) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Samples:    samples,
		SampleRate: sampleRate,
		Params:     params,
		CreatedAt:  time.Now(),
	}
}

// Duration returns the audio length of the job
func (j *Job) Duration() time.Duration {
	if j.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(j.Samples)) / float64(j.SampleRate) * float64(time.Second))
}

// Timing is one transcribed segment with its position in the audio.
// Within a result, timings are ordered and non-overlapping:
// StartMS <= EndMS and each StartMS >= the previous EndMS.
type Timing struct {
	StartMS uint64 `json:"start_ms"`
	EndMS   uint64 `json:"end_ms"`
	Text    string `json:"text"`
}

// Result is the outcome of a completed job
type Result struct {
	Content string   `json:"content"`
	Timings []Timing `json:"timings"`
}
