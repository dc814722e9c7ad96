package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TargetSampleRate is the sample rate the inference engine expects.
// The daemon does not resample; capture and file uploads must match.
const TargetSampleRate = 16000

// Config represents the complete daemon configuration
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	HTTP       HTTPConfig       `yaml:"http"`
	Buffer     BufferConfig     `yaml:"buffer"`
	VAD        VADConfig        `yaml:"vad"`
	Engine     EngineConfig     `yaml:"engine"`
	Completion CompletionConfig `yaml:"completion"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DaemonConfig contains command loop and capture defaults
type DaemonConfig struct {
	SocketPath  string `yaml:"socket_path"`
	InputDevice string `yaml:"input_device"`
	SampleRate  int    `yaml:"sample_rate"`
	DefaultMode string `yaml:"default_mode"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// BufferConfig sizes the capture ring buffer
type BufferConfig struct {
	CapacitySeconds float64 `yaml:"capacity_seconds"`
}

// VADConfig contains voice activity detection parameters
type VADConfig struct {
	Threshold       float64 `yaml:"threshold"`
	WindowMS        int     `yaml:"window_ms"`
	HangoverWindows int     `yaml:"hangover_windows"`
}

// EngineConfig contains inference engine client configuration
type EngineConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// CompletionConfig configures the text-completion utility. It is read
// by the complete command, not by the daemon.
type CompletionConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	SystemMessage string `yaml:"system_message"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Daemon.SampleRate == 0 {
		c.Daemon.SampleRate = TargetSampleRate
	}
	if c.Daemon.DefaultMode == "" {
		c.Daemon.DefaultMode = "live_typing"
	}
	if c.Buffer.CapacitySeconds == 0 {
		c.Buffer.CapacitySeconds = 30
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.02
	}
	if c.VAD.WindowMS == 0 {
		c.VAD.WindowMS = 30
	}
	if c.VAD.HangoverWindows == 0 {
		c.VAD.HangoverWindows = 15
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Daemon.Validate(); err != nil {
		return fmt.Errorf("daemon config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if c.Daemon.SocketPath == "" && !c.HTTP.Enabled {
		return fmt.Errorf("at least one of daemon.socket_path or http.enabled must be set")
	}

	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates daemon configuration
func (d *DaemonConfig) Validate() error {
	if d.SampleRate != TargetSampleRate {
		return fmt.Errorf("sample_rate must be %d Hz for the inference engine, got %d", TargetSampleRate, d.SampleRate)
	}

	validModes := map[string]bool{"standard": true, "live_typing": true}
	if !validModes[d.DefaultMode] {
		return fmt.Errorf("default_mode must be 'standard' or 'live_typing', got '%s'", d.DefaultMode)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates buffer configuration
func (b *BufferConfig) Validate() error {
	if b.CapacitySeconds < 1 {
		return fmt.Errorf("capacity_seconds must be at least 1, got %f", b.CapacitySeconds)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}

	if v.WindowMS < 10 || v.WindowMS > 200 {
		return fmt.Errorf("window_ms must be between 10 and 200, got %d", v.WindowMS)
	}

	if v.HangoverWindows < 1 {
		return fmt.Errorf("hangover_windows must be at least 1, got %d", v.HangoverWindows)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// WindowSamples returns the VAD analysis window size in samples at the
// given rate.
func (v *VADConfig) WindowSamples(sampleRate int) int {
	return sampleRate * v.WindowMS / 1000
}

// WindowDuration returns the VAD analysis window as a time.Duration
func (v *VADConfig) WindowDuration() time.Duration {
	return time.Duration(v.WindowMS) * time.Millisecond
}

// CapacitySamples returns the ring buffer capacity in samples at the
// given rate.
func (b *BufferConfig) CapacitySamples(sampleRate int) int {
	return int(b.CapacitySeconds * float64(sampleRate))
}

// GetTimeoutDuration returns the engine request timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}
