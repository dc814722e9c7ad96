package daemon

import "errors"

// Sentinel errors for command failures. Every one of these surfaces
// as a protocol error response, never as a daemon crash.
var (
	// ErrAlreadyRecording is returned for Start while a session is active
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned for Stop with no active session
	ErrNotRecording = errors.New("not recording")

	// ErrDecodeFailed is returned when uploaded audio cannot be decoded
	ErrDecodeFailed = errors.New("failed to decode audio")

	// ErrEngineFailed is returned when the inference engine fails a job
	ErrEngineFailed = errors.New("transcription engine failed")

	// ErrBadCommand is returned for malformed or unknown commands
	ErrBadCommand = errors.New("bad command")
)
