// Package config provides the configuration schema, loader, and file watcher
// for the Voiceloop client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unrecognised values map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PlaybackBackend selects how queued model audio reaches the speaker.
type PlaybackBackend string

const (
	// BackendDevice renders through the sound card callback, which pulls one
	// quantum at a time.
	BackendDevice PlaybackBackend = "device"

	// BackendTicker drains the queue on a wall-clock ticker and writes the
	// encoded PCM to a sink. Used where no output device is available.
	BackendTicker PlaybackBackend = "ticker"
)

// IsValid reports whether b is a recognised playback backend.
func (b PlaybackBackend) IsValid() bool {
	return b == BackendDevice || b == BackendTicker
}

// Config is the root configuration structure for Voiceloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Audio    AudioConfig    `yaml:"audio"`
	Reveal   RevealConfig   `yaml:"reveal"`
	BargeIn  BargeInConfig  `yaml:"barge_in"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics and /healthz
	// (e.g., ":9090"). Empty disables the diagnostics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// EndpointConfig describes the voice endpoint connection.
type EndpointConfig struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string `yaml:"url"`

	// APIKey is sent as a bearer token when non-empty. Supports ${VAR}
	// expansion from the environment.
	APIKey string `yaml:"api_key"`

	// MaxRedials is the number of reconnection attempts per outage before
	// giving up. Zero disables automatic redial: the session ends on
	// transport failure and starting again is an explicit user action.
	MaxRedials int `yaml:"max_redials"`
}

// AudioConfig holds sample format and device settings. Capture and playback
// share a single sample rate; the endpoint expects mono PCM16.
type AudioConfig struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the capture frame length in samples. Defaults to 512.
	FrameSamples int `yaml:"frame_samples"`

	// Quantum is the playback render window in samples. Defaults to 256.
	Quantum int `yaml:"quantum"`

	// Backend selects the playback path. Defaults to "device".
	Backend PlaybackBackend `yaml:"backend"`
}

// RevealConfig tunes the transcript word-reveal pacing.
type RevealConfig struct {
	// BaseDelayMS is the per-word delay in milliseconds. Zero uses the default.
	BaseDelayMS int `yaml:"base_delay_ms"`

	// ClausePauseMS is the extra delay after clause punctuation.
	ClausePauseMS int `yaml:"clause_pause_ms"`

	// SentencePauseMS is the extra delay after sentence punctuation.
	SentencePauseMS int `yaml:"sentence_pause_ms"`

	// PlaceholderGraceMS is how long an empty turn waits before showing the
	// thinking placeholder.
	PlaceholderGraceMS int `yaml:"placeholder_grace_ms"`
}

// BargeInConfig tunes interruption detection.
type BargeInConfig struct {
	// DebounceMS suppresses repeat triggers inside this window. Zero uses
	// the default.
	DebounceMS int `yaml:"debounce_ms"`

	// Vocabulary replaces the built-in interruption phrases when non-empty.
	Vocabulary []string `yaml:"vocabulary"`

	// FuzzyThreshold is the similarity score required for a misheard word to
	// trigger, in (0, 1]. Zero uses the default; negative disables fuzzy
	// matching.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// Debounce returns the configured debounce as a duration, or zero when unset.
func (b BargeInConfig) Debounce() time.Duration {
	return time.Duration(b.DebounceMS) * time.Millisecond
}
