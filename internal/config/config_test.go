package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/solenlabs/voiceloop/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: info
  metrics_addr: ":9090"

endpoint:
  url: wss://voice.example.com/session
  api_key: test-key
  max_redials: 5

audio:
  sample_rate: 16000
  frame_samples: 512
  quantum: 256
  backend: device

reveal:
  base_delay_ms: 220
  clause_pause_ms: 150
  sentence_pause_ms: 320
  placeholder_grace_ms: 900

barge_in:
  debounce_ms: 300
  fuzzy_threshold: 0.86
  vocabulary:
    - stop
    - hold on
    - enough
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── schema tests ─────────────────────────────────────────────────────────────

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("metrics_addr = %q", cfg.Server.MetricsAddr)
	}
	if cfg.Endpoint.URL != "wss://voice.example.com/session" {
		t.Errorf("endpoint.url = %q", cfg.Endpoint.URL)
	}
	if cfg.Endpoint.APIKey != "test-key" {
		t.Errorf("endpoint.api_key = %q", cfg.Endpoint.APIKey)
	}
	if cfg.Endpoint.MaxRedials != 5 {
		t.Errorf("endpoint.max_redials = %d", cfg.Endpoint.MaxRedials)
	}
	if cfg.Audio.Backend != config.BackendDevice {
		t.Errorf("audio.backend = %q", cfg.Audio.Backend)
	}
	if cfg.Reveal.BaseDelayMS != 220 {
		t.Errorf("reveal.base_delay_ms = %d", cfg.Reveal.BaseDelayMS)
	}
	if got := cfg.BargeIn.Debounce(); got != 300*time.Millisecond {
		t.Errorf("barge_in debounce = %v, want 300ms", got)
	}
	if len(cfg.BargeIn.Vocabulary) != 3 {
		t.Errorf("vocabulary size = %d, want 3", len(cfg.BargeIn.Vocabulary))
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("verbose should be invalid")
	}
}

func TestPlaybackBackend_IsValid(t *testing.T) {
	t.Parallel()
	if !config.BackendDevice.IsValid() || !config.BackendTicker.IsValid() {
		t.Error("built-in backends should be valid")
	}
	if config.PlaybackBackend("pulse").IsValid() {
		t.Error("pulse should be invalid")
	}
}

// ── validation tests ─────────────────────────────────────────────────────────

func TestValidate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Endpoint.URL = "wss://voice.example.com/session"

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Audio.SampleRate != config.DefaultSampleRate {
		t.Errorf("sample_rate default = %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSamples != config.DefaultFrameSamples {
		t.Errorf("frame_samples default = %d", cfg.Audio.FrameSamples)
	}
	if cfg.Audio.Quantum != config.DefaultQuantum {
		t.Errorf("quantum default = %d", cfg.Audio.Quantum)
	}
	if cfg.Audio.Backend != config.BackendDevice {
		t.Errorf("backend default = %q", cfg.Audio.Backend)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Server.LogLevel = "bananas"
	cfg.Endpoint.URL = "https://not-a-websocket"
	cfg.Audio.SampleRate = 4000
	cfg.BargeIn.DebounceMS = -1
	cfg.BargeIn.FuzzyThreshold = 1.5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"endpoint.url",
		"audio.sample_rate",
		"barge_in.debounce_ms",
		"barge_in.fuzzy_threshold",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidate_RequiresEndpointURL(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{})
	if err == nil || !strings.Contains(err.Error(), "endpoint.url is required") {
		t.Errorf("missing endpoint.url not reported: %v", err)
	}
}

func TestValidate_ExpandsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("VOICELOOP_TEST_KEY", "from-env")

	cfg := &config.Config{}
	cfg.Endpoint.URL = "ws://localhost:8080/session"
	cfg.Endpoint.APIKey = "${VOICELOOP_TEST_KEY}"

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Endpoint.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.Endpoint.APIKey)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
endpoint:
  url: wss://voice.example.com/session
  password: hunter2
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate_RejectsEmptyVocabularyEntry(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Endpoint.URL = "wss://voice.example.com/session"
	cfg.BargeIn.Vocabulary = []string{"stop", "   ", "wait"}

	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "vocabulary[1]") {
		t.Errorf("blank vocabulary entry not reported: %v", err)
	}
}
