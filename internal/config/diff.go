package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; endpoint and
// audio-device changes require a restart and are deliberately ignored.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RevealChanged is true when any word-reveal pacing value changed.
	RevealChanged bool

	// BargeInChanged is true when the vocabulary, debounce, or fuzzy
	// threshold changed.
	BargeInChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.RevealChanged || d.BargeInChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Reveal != new.Reveal {
		d.RevealChanged = true
	}

	if old.BargeIn.DebounceMS != new.BargeIn.DebounceMS ||
		old.BargeIn.FuzzyThreshold != new.BargeIn.FuzzyThreshold ||
		!slices.Equal(old.BargeIn.Vocabulary, new.BargeIn.Vocabulary) {
		d.BargeInChanged = true
	}

	return d
}
