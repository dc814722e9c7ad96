package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Sentinel errors for capture setup failures. Callers classify with
// errors.Is before encoding a protocol error.
var (
	ErrDeviceNotFound        = errors.New("input device not found")
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// Device describes a capture-capable audio device
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// Source is an open capture stream feeding a ring buffer
type Source interface {
	Start() error
	Close() error
}

// Opener opens capture sources. The daemon holds this interface so
// tests can substitute a synthetic source for real hardware.
type Opener interface {
	Open(deviceName string, sampleRate int, ring *Ring) (Source, error)
}

// PortAudioOpener opens real input streams through PortAudio. The
// host must call portaudio.Initialize before use and Terminate at
// shutdown.
type PortAudioOpener struct {
	framesPerBuffer int
}

// NewPortAudioOpener creates an opener with the default frame size
func NewPortAudioOpener() *PortAudioOpener {
	return &PortAudioOpener{framesPerBuffer: 512}
}

// ListDevices enumerates capture-capable devices
func ListDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	var devices []Device
	for i, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, Device{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return devices, nil
}

// matchDevice returns the index of the first name containing query,
// case-insensitively. Enumeration order decides ties.
func matchDevice(names []string, query string) (int, bool) {
	needle := strings.ToLower(query)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			return i, true
		}
	}
	return 0, false
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceNotFound, err)
		}
		return info, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	var candidates []*portaudio.DeviceInfo
	var names []string
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		candidates = append(candidates, info)
		names = append(names, info.Name)
	}

	if i, ok := matchDevice(names, name); ok {
		return candidates[i], nil
	}
	return nil, fmt.Errorf("%w: no input device matching %q", ErrDeviceNotFound, name)
}

// Open resolves the device by partial name match and opens a mono
// input stream at the exact requested rate. The stream callback pushes
// frames into ring; the callback never blocks because Push never
// blocks.
func (o *PortAudioOpener) Open(deviceName string, sampleRate int, ring *Ring) (Source, error) {
	device, err := findInputDevice(deviceName)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = o.framesPerBuffer

	if err := portaudio.IsFormatSupported(params, func([]float32) {}); err != nil {
		return nil, fmt.Errorf("%w: %d Hz on %q", ErrUnsupportedSampleRate, sampleRate, device.Name)
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		ring.Push(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream on %q: %w", device.Name, err)
	}

	return &portAudioSource{stream: stream}, nil
}

type portAudioSource struct {
	stream *portaudio.Stream
}

func (s *portAudioSource) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	return nil
}

// Close stops and releases the stream. Both steps always run so the
// device is released even when stopping fails.
func (s *portAudioSource) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close input stream: %w", closeErr)
	}
	return nil
}
