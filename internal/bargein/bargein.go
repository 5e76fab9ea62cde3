// Package bargein detects interruption phrases in live user transcripts and
// cuts off model playback locally before the server round-trip completes.
//
// Detection runs on every partial transcript, so a spoken "stop" silences
// output as soon as the recognizer produces even a prefix of the word. The
// [Controller] fires its actions in a fixed order: stale-audio drop first,
// then queue clear and mute, then gain zero, then the stop command on the
// wire. Ordering matters because audio chunks keep arriving while the stop is
// in flight; the drop flag must be up before the queue is emptied or a
// straggler chunk would resurface after the clear.
package bargein

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/solenlabs/voiceloop/internal/bargein/phonetic"
)

// DefaultVocabulary lists the interruption phrases recognised out of the box.
var DefaultVocabulary = []string{
	"stop", "cancel", "pause", "hold on", "wait",
	"quiet", "be quiet", "silence", "shut up",
}

// eagerPartials are recognizer prefixes of "stop" that trigger early. They
// only ever match a whole transcript, never a substring, so "story" does not
// trip them.
var eagerPartials = map[string]struct{}{
	"st":    {},
	"sto":   {},
	"stop":  {},
	"stop.": {},
	"stop!": {},
}

const (
	// DefaultDebounce suppresses repeat triggers while one interrupt is
	// already in flight.
	DefaultDebounce = 300 * time.Millisecond

	// defaultFuzzyThreshold is the Jaro-Winkler score above which a token
	// counts as a misheard vocabulary word.
	defaultFuzzyThreshold = 0.86
)

// Gate is the turn-machine surface the controller consults and flips. It is
// satisfied by [*turn.Machine].
type Gate interface {
	// ModelSpeaking reports whether playback is active; interrupts are
	// ignored otherwise.
	ModelSpeaking() bool
	// DropAudio marks in-flight audio of the current response stale.
	DropAudio()
}

// Playback is the controller's local-silence surface.
type Playback interface {
	Clear()
	SetPlaying(on bool)
	SetGain(g float32)
}

// StopSender delivers the stop command to the server.
type StopSender interface {
	SendStop() error
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithVocabulary replaces the default interruption phrases.
func WithVocabulary(phrases []string) Option {
	return func(c *Controller) {
		c.vocabulary = phrases
	}
}

// WithDebounce overrides the repeat-trigger suppression window.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		c.debounce = d
	}
}

// WithFuzzyThreshold overrides the Jaro-Winkler score required for a token to
// count as a misheard vocabulary word. Zero disables fuzzy matching.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Controller) {
		c.fuzzyThreshold = t
	}
}

// withClock injects the time source for debounce tests.
func withClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller watches user transcripts for interruption phrases and silences
// model playback when one fires. Methods are called from the session read
// pump; the controller itself holds no locks because all state changes happen
// on that one goroutine.
type Controller struct {
	gate     Gate
	playback Playback
	sender   StopSender
	log      *slog.Logger

	vocabulary     []string
	pattern        *regexp.Regexp
	fuzzy          *phonetic.Matcher
	fuzzyThreshold float64
	debounce       time.Duration
	now            func() time.Time

	lastFired time.Time
	fired     uint64
}

// New builds a controller over the default vocabulary. The returned error is
// non-nil only when a custom vocabulary produces an invalid match pattern.
func New(gate Gate, playback Playback, sender StopSender, log *slog.Logger, opts ...Option) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		gate:           gate,
		playback:       playback,
		sender:         sender,
		log:            log,
		vocabulary:     DefaultVocabulary,
		fuzzyThreshold: defaultFuzzyThreshold,
		debounce:       DefaultDebounce,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	alts := make([]string, 0, len(c.vocabulary))
	var fuzzyWords []string
	for _, phrase := range c.vocabulary {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(phrase))
		if !strings.ContainsRune(phrase, ' ') {
			fuzzyWords = append(fuzzyWords, phrase)
		}
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("bargein: empty vocabulary")
	}
	pattern, err := regexp.Compile(`\b(` + strings.Join(alts, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("bargein: compile vocabulary pattern: %w", err)
	}
	c.pattern = pattern
	if c.fuzzyThreshold > 0 && len(fuzzyWords) > 0 {
		c.fuzzy = phonetic.New(fuzzyWords, c.fuzzyThreshold)
	}
	return c, nil
}

// OnUserTranscript inspects one partial or final user transcript and reports
// whether an interrupt fired. Transcripts arriving while the model is not
// speaking, or inside the debounce window of a previous trigger, never fire.
func (c *Controller) OnUserTranscript(text string) bool {
	if !c.matches(text) {
		return false
	}
	if !c.gate.ModelSpeaking() {
		return false
	}
	if now := c.now(); now.Sub(c.lastFired) < c.debounce {
		return false
	} else {
		c.lastFired = now
	}

	c.gate.DropAudio()
	c.playback.Clear()
	c.playback.SetPlaying(false)
	c.playback.SetGain(0)
	c.fired++
	if err := c.sender.SendStop(); err != nil {
		c.log.Warn("stop command failed, playback silenced locally", "error", err)
	}
	c.log.Debug("barge-in", "transcript", text)
	return true
}

// Fired returns the number of interrupts triggered since creation.
func (c *Controller) Fired() uint64 {
	return c.fired
}

// matches reports whether the transcript contains an interruption phrase,
// an eager prefix of "stop", or a close mishearing of a vocabulary word.
func (c *Controller) matches(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}
	if _, ok := eagerPartials[lowered]; ok {
		return true
	}
	if c.pattern.MatchString(lowered) {
		return true
	}
	if c.fuzzy == nil {
		return false
	}
	for _, token := range strings.Fields(lowered) {
		token = strings.Trim(token, ".,!?;:")
		if len(token) < 3 {
			continue
		}
		if _, _, ok := c.fuzzy.Match(token); ok {
			return true
		}
	}
	return false
}
