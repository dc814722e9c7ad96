// Package config provides configuration loading and validation for the
// voice transcription daemon. It handles YAML-based configuration with
// per-section validation and derived size/duration helpers.
package config
