package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is zero.
const (
	DefaultSampleRate   = 16000
	DefaultFrameSamples = 512
	DefaultQuantum      = 256
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Endpoint
	if cfg.Endpoint.URL == "" {
		errs = append(errs, errors.New("endpoint.url is required"))
	} else if !strings.HasPrefix(cfg.Endpoint.URL, "ws://") && !strings.HasPrefix(cfg.Endpoint.URL, "wss://") {
		errs = append(errs, fmt.Errorf("endpoint.url %q must use the ws:// or wss:// scheme", cfg.Endpoint.URL))
	}
	cfg.Endpoint.APIKey = os.ExpandEnv(cfg.Endpoint.APIKey)
	if cfg.Endpoint.MaxRedials < 0 {
		errs = append(errs, fmt.Errorf("endpoint.max_redials %d must not be negative", cfg.Endpoint.MaxRedials))
	}

	// Audio
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	} else if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = DefaultFrameSamples
	} else if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.Quantum == 0 {
		cfg.Audio.Quantum = DefaultQuantum
	} else if cfg.Audio.Quantum < 0 {
		errs = append(errs, fmt.Errorf("audio.quantum %d must be positive", cfg.Audio.Quantum))
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendDevice
	} else if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: device, ticker", cfg.Audio.Backend))
	}

	// Reveal
	for _, f := range []struct {
		name  string
		value int
	}{
		{"reveal.base_delay_ms", cfg.Reveal.BaseDelayMS},
		{"reveal.clause_pause_ms", cfg.Reveal.ClausePauseMS},
		{"reveal.sentence_pause_ms", cfg.Reveal.SentencePauseMS},
		{"reveal.placeholder_grace_ms", cfg.Reveal.PlaceholderGraceMS},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.value))
		}
	}

	// Barge-in
	if cfg.BargeIn.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("barge_in.debounce_ms %d must not be negative", cfg.BargeIn.DebounceMS))
	}
	if cfg.BargeIn.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("barge_in.fuzzy_threshold %.2f is out of range (0, 1]", cfg.BargeIn.FuzzyThreshold))
	}
	for i, phrase := range cfg.BargeIn.Vocabulary {
		if strings.TrimSpace(phrase) == "" {
			errs = append(errs, fmt.Errorf("barge_in.vocabulary[%d] is empty", i))
		}
	}
	if len(cfg.BargeIn.Vocabulary) > 0 && len(cfg.BargeIn.Vocabulary) < 3 {
		slog.Warn("barge-in vocabulary is very small; the defaults cover common phrasings",
			"phrases", len(cfg.BargeIn.Vocabulary),
		)
	}

	return errors.Join(errs...)
}
