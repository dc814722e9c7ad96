package vad

import (
	"fmt"
	"math"
	"sync"
)

// Detector classifies fixed-size audio windows as speech or silence
// using RMS energy against a configured threshold.
type Detector struct {
	threshold float64

	// Statistics
	totalWindows  uint64
	speechWindows uint64

	mu sync.RWMutex
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalWindows     uint64  `json:"total_windows"`
	SpeechWindows    uint64  `json:"speech_windows"`
	SpeechPercentage float64 `json:"speech_percentage"`
	Threshold        float64 `json:"threshold"`
}

// NewDetector creates a new energy detector
func NewDetector(threshold float64) (*Detector, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	return &Detector{threshold: threshold}, nil
}

// Energy computes the RMS energy of a window of samples in [-1, 1]
func Energy(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}

	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(window)))
}

// IsSpeech reports whether the window's RMS energy reaches the
// threshold.
func (d *Detector) IsSpeech(window []float32) bool {
	speech := Energy(window) >= d.threshold

	d.mu.Lock()
	d.totalWindows++
	if speech {
		d.speechWindows++
	}
	d.mu.Unlock()

	return speech
}

// Threshold returns the configured detection threshold
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	percentage := float64(0)
	if d.totalWindows > 0 {
		percentage = float64(d.speechWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		TotalWindows:     d.totalWindows,
		SpeechWindows:    d.speechWindows,
		SpeechPercentage: percentage,
		Threshold:        d.threshold,
	}
}
