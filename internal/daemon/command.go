package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
)

// Mode selects how a finished transcription is meant to be consumed
// by the client.
type Mode string

const (
	// ModeStandard delivers the transcript as a single block
	ModeStandard Mode = "standard"
	// ModeLiveTyping marks the transcript for incremental insertion
	ModeLiveTyping Mode = "live_typing"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStandard, ModeLiveTyping:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrBadCommand, s)
	}
}

// modeWire is the JSON shape of a mode: {"type":"live_typing"}
type modeWire struct {
	Type string `json:"type"`
}

// MarshalJSON encodes the mode as a tagged object
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(modeWire{Type: string(m)})
}

// UnmarshalJSON accepts both the tagged object and a bare string
func (m *Mode) UnmarshalJSON(data []byte) error {
	var tagged modeWire
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Type != "" {
		parsed, err := ParseMode(tagged.Type)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("%w: invalid mode encoding", ErrBadCommand)
	}
	parsed, err := ParseMode(plain)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Command type names as they appear on the wire
const (
	CmdStart          = "start"
	CmdStop           = "stop"
	CmdMode           = "mode"
	CmdReset          = "reset"
	CmdTranscribeFile = "transcribe_file"
)

// Command is one instruction to the daemon. Type selects the
// operation; the remaining fields apply only to the types that name
// them. Audio and Params arrive out of band (HTTP multipart), never
// in the JSON body.
type Command struct {
	Type string `json:"type"`

	// Start
	InputDevice string `json:"input_device,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`

	// Mode
	Mode Mode `json:"mode,omitempty"`

	// TranscribeFile
	Audio  []byte            `json:"-"`
	Params transcribe.Params `json:"-"`
}

// ParseCommand decodes one JSON command
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	switch cmd.Type {
	case CmdStart, CmdStop, CmdReset:
	case CmdMode:
		if cmd.Mode == "" {
			return Command{}, fmt.Errorf("%w: mode command requires a mode", ErrBadCommand)
		}
	case CmdTranscribeFile:
		return Command{}, fmt.Errorf("%w: transcribe_file is only available over HTTP", ErrBadCommand)
	case "":
		return Command{}, fmt.Errorf("%w: missing command type", ErrBadCommand)
	default:
		return Command{}, fmt.Errorf("%w: unknown command type %q", ErrBadCommand, cmd.Type)
	}

	return cmd, nil
}
