package vad

import (
	"fmt"
	"sync"
)

// SegmenterState represents the segmenter's position in the
// speech/silence cycle
type SegmenterState int

const (
	// StateSilence means no speech region is in progress
	StateSilence SegmenterState = iota
	// StateAccumulating means a speech region is being collected
	StateAccumulating
)

// String returns a human-readable state name
func (s SegmenterState) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Segmenter groups consecutive speech windows into regions. A region
// opens on the first speech window and closes after hangover
// consecutive silent windows; silent windows are never part of the
// output. Closed regions accumulate in a pending buffer until Take.
type Segmenter struct {
	detector   *Detector
	windowSize int
	hangover   int

	state     SegmenterState
	silentRun int
	current   []float32
	pending   []float32

	// Statistics
	regionsFlushed uint64

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	State          string `json:"state"`
	RegionsFlushed uint64 `json:"regions_flushed"`
	PendingSamples int    `json:"pending_samples"`
	CurrentSamples int    `json:"current_samples"`
}

// NewSegmenter creates a segmenter over the given detector
func NewSegmenter(detector *Detector, windowSize, hangover int) (*Segmenter, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector cannot be nil")
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if hangover < 1 {
		return nil, fmt.Errorf("hangover must be at least 1, got %d", hangover)
	}

	return &Segmenter{
		detector:   detector,
		windowSize: windowSize,
		hangover:   hangover,
		state:      StateSilence,
	}, nil
}

// WindowSize returns the analysis window size in samples
func (s *Segmenter) WindowSize() int {
	return s.windowSize
}

// Feed processes one analysis window. It returns true when the window
// was classified as speech.
func (s *Segmenter) Feed(window []float32) (bool, error) {
	if len(window) != s.windowSize {
		return false, fmt.Errorf("expected %d samples, got %d", s.windowSize, len(window))
	}

	speech := s.detector.IsSpeech(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSilence:
		if speech {
			s.state = StateAccumulating
			s.silentRun = 0
			s.current = append(s.current, window...)
		}

	case StateAccumulating:
		if speech {
			s.silentRun = 0
			s.current = append(s.current, window...)
		} else {
			s.silentRun++
			if s.silentRun >= s.hangover {
				s.flushLocked()
			}
		}
	}

	return speech, nil
}

// Flush force-closes an in-progress region. Called when recording
// stops so trailing speech is never lost.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAccumulating {
		s.flushLocked()
	}
}

func (s *Segmenter) flushLocked() {
	if len(s.current) > 0 {
		s.pending = append(s.pending, s.current...)
		s.current = nil
		s.regionsFlushed++
	}
	s.state = StateSilence
	s.silentRun = 0
}

// Take returns all pending speech samples in arrival order and resets
// the segmenter for the next session.
func (s *Segmenter) Take() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	s.current = nil
	s.state = StateSilence
	s.silentRun = 0
	return out
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		State:          s.state.String(),
		RegionsFlushed: s.regionsFlushed,
		PendingSamples: len(s.pending),
		CurrentSamples: len(s.current),
	}
}
