// Package audio handles sample buffering, capture, and format
// conversion. It implements the fixed-capacity capture ring, PortAudio
// input streams with partial-name device resolution, and PCM/WAV
// encode/decode for engine uploads.
package audio
