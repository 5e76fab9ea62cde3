package config_test

import (
	"testing"

	"github.com/solenlabs/voiceloop/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogInfo
	cfg.Endpoint.URL = "wss://voice.example.com/session"
	cfg.Reveal.BaseDelayMS = 220
	cfg.BargeIn.DebounceMS = 300
	cfg.BargeIn.Vocabulary = []string{"stop", "wait"}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	if d := config.Diff(old, new); d.Any() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("log level change not detected")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RevealChanged || d.BargeInChanged {
		t.Error("unrelated sections flagged")
	}
}

func TestDiff_RevealPacing(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Reveal.SentencePauseMS = 500

	d := config.Diff(old, new)
	if !d.RevealChanged {
		t.Error("reveal pacing change not detected")
	}
	if !d.Any() {
		t.Error("Any() = false despite change")
	}
}

func TestDiff_BargeIn(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.BargeIn.Vocabulary = []string{"stop", "wait", "enough"}
	if d := config.Diff(old, new); !d.BargeInChanged {
		t.Error("vocabulary change not detected")
	}

	old, new = baseConfig(), baseConfig()
	new.BargeIn.DebounceMS = 150
	if d := config.Diff(old, new); !d.BargeInChanged {
		t.Error("debounce change not detected")
	}

	old, new = baseConfig(), baseConfig()
	new.BargeIn.FuzzyThreshold = 0.9
	if d := config.Diff(old, new); !d.BargeInChanged {
		t.Error("fuzzy threshold change not detected")
	}
}

// Endpoint changes need a restart, so the diff deliberately ignores them.
func TestDiff_IgnoresEndpoint(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Endpoint.URL = "wss://other.example.com/session"

	if d := config.Diff(old, new); d.Any() {
		t.Errorf("endpoint change should not appear in diff: %+v", d)
	}
}
