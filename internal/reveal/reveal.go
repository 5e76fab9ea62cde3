// Package reveal paces the display of bot transcript text.
//
// The remote service delivers the full transcript as a monotonically growing
// string, often well ahead of the synthesised audio. Dumping it to the
// display at once would spoil the spoken delivery, so the scheduler reveals
// it word by word: a timer pops one queued word at a time and republishes
// the joined revealed prefix. Words ending in sentence-terminal punctuation
// pause longer than clause punctuation, which pauses longer than plain
// words.
//
// A turn that produces no words within a grace window shows a provisional
// ellipsis placeholder until the first word arrives. Flush and cancel paths
// bypass pacing entirely via RevealAll or ForceText.
//
// All methods are safe for concurrent use.
package reveal

import (
	"strings"
	"sync"
	"time"
)

// Placeholder is the provisional marker shown while a turn has produced no
// transcript words yet.
const Placeholder = "…"

// Default pacing values. Tuned to feel synchronised with typical synthesis
// speed; all are overridable per scheduler.
const (
	DefaultBaseDelay        = 220 * time.Millisecond
	DefaultClausePause      = 150 * time.Millisecond
	DefaultSentencePause    = 320 * time.Millisecond
	DefaultPlaceholderGrace = 900 * time.Millisecond
)

// Option configures a Scheduler during construction.
type Option func(*Scheduler)

// WithBaseDelay sets the delay after every revealed word.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.base = d }
}

// WithClausePause sets the extra delay after words ending in , ; or :.
func WithClausePause(d time.Duration) Option {
	return func(s *Scheduler) { s.clausePause = d }
}

// WithSentencePause sets the extra delay after words ending in . ? or !.
func WithSentencePause(d time.Duration) Option {
	return func(s *Scheduler) { s.sentencePause = d }
}

// WithPlaceholderGrace sets how long after Reset the placeholder appears
// when no words have arrived.
func WithPlaceholderGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// Scheduler turns a growing target transcript into a paced reveal sequence.
// The publish callback receives the joined revealed text after every change;
// it is invoked without the state lock held and must not call back into the
// scheduler.
type Scheduler struct {
	publish       func(text string)
	base          time.Duration
	clausePause   time.Duration
	sentencePause time.Duration
	grace         time.Duration

	mu          sync.Mutex
	seen        int // server-target words already enqueued for this turn
	revealed    []string
	queue       []string
	display     string // latest text owed to the publish callback
	ticking     bool
	placeholder bool
	timer       *time.Timer
	graceTimer  *time.Timer
	closed      bool

	// pubMu serialises publishes. flush re-reads display after taking it,
	// so a timer step that lost the race to RevealAll or ForceText emits
	// the newer text instead of its stale prefix.
	pubMu sync.Mutex
}

// New creates a Scheduler publishing through publish, which must be non-nil.
func New(publish func(text string), opts ...Option) *Scheduler {
	s := &Scheduler{
		publish:       publish,
		base:          DefaultBaseDelay,
		clausePause:   DefaultClausePause,
		sentencePause: DefaultSentencePause,
		grace:         DefaultPlaceholderGrace,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetTarget replaces the known full transcript for the current turn. Only
// words beyond the already-enqueued prefix are added; shrinking input adds
// nothing. Already-revealed words are never re-revealed.
func (s *Scheduler) SetTarget(text string) {
	words := strings.Fields(text)

	s.mu.Lock()
	if s.closed || len(words) <= s.seen {
		s.mu.Unlock()
		return
	}
	suffix := words[s.seen:]
	s.seen = len(words)
	start := s.enqueueLocked(suffix)
	s.mu.Unlock()

	if start {
		s.step()
	}
}

// Append adds text to the end of the transcript target, independent of the
// server-provided transcript stream. Used for formatted tool results.
// Appended words do not count toward the server-transcript prefix, so a
// target that keeps growing after an Append still reveals its new words.
func (s *Scheduler) Append(text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	start := s.enqueueLocked(words)
	s.mu.Unlock()

	if start {
		s.step()
	}
}

// enqueueLocked adds words to the queue, clears the placeholder machinery,
// and reports whether the caller should kick the reveal loop.
func (s *Scheduler) enqueueLocked(words []string) bool {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.placeholder = false
	s.queue = append(s.queue, words...)
	if s.ticking {
		return false
	}
	s.ticking = true
	return true
}

// step pops one word, publishes the new prefix, and schedules the next pop.
func (s *Scheduler) step() {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 {
		s.ticking = false
		s.mu.Unlock()
		return
	}
	word := s.queue[0]
	s.queue = s.queue[1:]
	s.revealed = append(s.revealed, word)
	s.display = strings.Join(s.revealed, " ")
	s.timer = time.AfterFunc(s.delayFor(word), s.step)
	s.mu.Unlock()

	s.flush()
}

// flush delivers the latest display text to the publish callback. The text
// is re-read under the state lock after pubMu is held, so out of two racing
// flushes the later publish always carries the later text.
func (s *Scheduler) flush() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	text := s.display
	s.mu.Unlock()

	s.publish(text)
}

// delayFor returns the pause after revealing word: base delay, extended for
// clause or sentence-terminal punctuation.
func (s *Scheduler) delayFor(word string) time.Duration {
	if word == "" {
		return s.base
	}
	switch word[len(word)-1] {
	case '.', '?', '!':
		return s.base + s.sentencePause
	case ',', ';', ':':
		return s.base + s.clausePause
	}
	return s.base
}

// SetPacing replaces the timing parameters. Words already scheduled keep the
// delay they were armed with; the new values apply from the next reveal on.
func (s *Scheduler) SetPacing(base, clausePause, sentencePause, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base
	s.clausePause = clausePause
	s.sentencePause = sentencePause
	s.grace = grace
}

// RevealAll immediately reveals every queued word, bypassing pacing. Used by
// the flush and cancel paths.
func (s *Scheduler) RevealAll() {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.revealed = append(s.revealed, s.queue...)
	s.queue = nil
	s.ticking = false
	s.display = strings.Join(s.revealed, " ")
	s.mu.Unlock()

	s.flush()
}

// ForceText discards queue and revealed state and displays text at once.
// Used for the interrupted sentinel.
func (s *Scheduler) ForceText(text string) {
	words := strings.Fields(text)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.revealed = words
	s.queue = nil
	s.seen = len(words)
	s.ticking = false
	s.placeholder = false
	s.display = text
	s.mu.Unlock()

	s.flush()
}

// NewTurn clears all state for a new turn, publishes an empty display, and
// arms the placeholder grace timer.
func (s *Scheduler) NewTurn() {
	s.reset(true)
}

// Reset clears all state without arming the placeholder. Used on session
// teardown, where no further words are expected.
func (s *Scheduler) Reset() {
	s.reset(false)
}

func (s *Scheduler) reset(armPlaceholder bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.revealed = nil
	s.queue = nil
	s.seen = 0
	s.ticking = false
	s.placeholder = false
	if armPlaceholder {
		s.graceTimer = time.AfterFunc(s.grace, s.showPlaceholder)
	}
	s.display = ""
	s.mu.Unlock()

	s.flush()
}

// Revealed returns the number of words revealed so far this turn.
func (s *Scheduler) Revealed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revealed)
}

// showPlaceholder fires from the grace timer when a turn is still empty.
func (s *Scheduler) showPlaceholder() {
	s.mu.Lock()
	if s.closed || len(s.revealed) != 0 || len(s.queue) != 0 {
		s.mu.Unlock()
		return
	}
	s.placeholder = true
	s.display = Placeholder
	s.mu.Unlock()

	s.flush()
}

// Close stops all timers. The scheduler cannot be reused afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimersLocked()
}

func (s *Scheduler) stopTimersLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}
