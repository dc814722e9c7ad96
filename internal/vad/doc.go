// Package vad provides energy-based voice activity detection. A
// detector classifies fixed windows by RMS energy and a segmenter
// groups consecutive speech windows into regions, closing each region
// after a configured run of silent windows.
package vad
