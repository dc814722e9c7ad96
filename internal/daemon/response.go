package daemon

import (
	"encoding/json"

	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
)

// Response type names as they appear on the wire
const (
	RespAck           = "ack"
	RespTranscription = "transcription"
	RespError         = "error"
	RespNewMode       = "new_mode"
)

// Response is one reply to a command. Exactly one response is sent
// per command received.
type Response struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TranscriptionData is the payload of a transcription response
type TranscriptionData struct {
	Content string              `json:"content"`
	Mode    Mode                `json:"mode"`
	Timings []transcribe.Timing `json:"timings"`
}

// Ack acknowledges a command with no payload
func Ack() Response {
	return Response{Type: RespAck}
}

// NewTranscription builds a transcription response
func NewTranscription(content string, mode Mode, timings []transcribe.Timing) Response {
	if timings == nil {
		timings = []transcribe.Timing{}
	}
	return Response{
		Type: RespTranscription,
		Data: TranscriptionData{
			Content: content,
			Mode:    mode,
			Timings: timings,
		},
	}
}

// NewModeChanged acknowledges a mode change
func NewModeChanged(mode Mode) Response {
	return Response{Type: RespNewMode, Data: mode}
}

// NewError wraps a command failure. The daemon never crashes on a
// command error; it reports and returns to its previous state.
func NewError(err error) Response {
	return Response{Type: RespError, Message: err.Error()}
}

// Encode renders the response as a single JSON document
func (r Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// IsError reports whether the response is an error response
func (r Response) IsError() bool {
	return r.Type == RespError
}
