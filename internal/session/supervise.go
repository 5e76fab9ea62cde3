package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default redial parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// DialFunc establishes a fresh session. The supervisor calls it for the
// initial connection and on every redial.
type DialFunc func(ctx context.Context) (*Session, error)

// Supervisor owns at most one live [Session] and automatically redials with
// exponential backoff when the connection drops.
//
// Callers obtain the initial session via [Supervisor.Connect], then call
// [Supervisor.Monitor] to start a background goroutine that watches the
// session's Done channel. When the session ends without [Supervisor.Stop]
// having been called, the monitor redials and invokes the configured
// OnSession callback with the replacement. The previous session is always
// fully torn down before a new one is dialled, so two sessions never drive
// the playback queue at once.
//
// With NoRedial set the monitor still watches the session, but on its end it
// only clears the handle and fires OnDown, so readiness probes and the
// caller see the outage without any reconnection being attempted.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	dial       DialFunc
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	noRedial   bool
	onSession  func(*Session)
	onDown     func()

	mu       sync.Mutex
	sess     *Session
	done     chan struct{}
	stopOnce sync.Once
}

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// Dial establishes sessions. Required.
	Dial DialFunc

	// MaxRetries is the maximum number of redial attempts per outage before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// NoRedial disables reconnection. The monitor still observes the session
	// ending, clears the handle, and fires OnDown.
	NoRedial bool

	// OnSession is called with every session the supervisor establishes,
	// including the initial one from [Supervisor.Connect]. The callback must
	// start the session's Run loop. May be nil.
	OnSession func(*Session)

	// OnDown is called when a session has ended and no replacement will be
	// dialled, either because NoRedial is set or every redial attempt
	// failed. Not called on [Supervisor.Stop]. May be nil.
	OnDown func()
}

// NewSupervisor creates a new [Supervisor] with the given configuration.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Supervisor{
		dial:       cfg.Dial,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		noRedial:   cfg.NoRedial,
		onSession:  cfg.OnSession,
		onDown:     cfg.OnDown,
		done:       make(chan struct{}),
	}
}

// Connect performs the initial dial and hands the session to OnSession.
func (sv *Supervisor) Connect(ctx context.Context) (*Session, error) {
	sess, err := sv.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor initial dial: %w", err)
	}

	sv.mu.Lock()
	sv.sess = sess
	sv.mu.Unlock()

	if sv.onSession != nil {
		sv.onSession(sess)
	}
	return sess, nil
}

// Monitor starts watching the current session in a background goroutine.
// When the session ends it redials, or in NoRedial mode just reports the
// outage.
func (sv *Supervisor) Monitor(ctx context.Context) {
	go sv.monitorLoop(ctx)
}

// Stop halts monitoring and closes the current session. Safe to call
// multiple times.
func (sv *Supervisor) Stop() error {
	sv.stopOnce.Do(func() {
		close(sv.done)
	})

	sv.mu.Lock()
	sess := sv.sess
	sv.sess = nil
	sv.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Session returns the current live session. May return nil during a redial.
func (sv *Supervisor) Session() *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sess
}

// monitorLoop waits for the live session to end, then redials or reports.
func (sv *Supervisor) monitorLoop(ctx context.Context) {
	for {
		sess := sv.Session()
		if sess == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-sv.done:
			return
		case <-sess.Done():
			// Stop also closes the session; an intentional stop is not
			// an outage.
			select {
			case <-sv.done:
				return
			default:
			}
			if sv.noRedial {
				sv.clearSession(sess)
				slog.Info("session ended, redial disabled")
				sv.notifyDown()
				return
			}
			sv.attemptRedial(ctx, sess)
		}
	}
}

// clearSession nils the handle if it still points at old, so a replacement
// established concurrently is never discarded.
func (sv *Supervisor) clearSession(old *Session) {
	sv.mu.Lock()
	if sv.sess == old {
		sv.sess = nil
	}
	sv.mu.Unlock()
}

func (sv *Supervisor) notifyDown() {
	if sv.onDown != nil {
		sv.onDown()
	}
}

// attemptRedial tries to establish a replacement session with exponential
// backoff. The dead session's handle is cleared first, so Session reports
// nil for the whole redial window.
func (sv *Supervisor) attemptRedial(ctx context.Context, old *Session) {
	sv.clearSession(old)

	currentBackoff := sv.backoff

	for attempt := 1; attempt <= sv.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-sv.done:
			return
		default:
		}

		slog.Info("attempting session redial",
			"attempt", attempt,
			"max_retries", sv.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := sv.dial(ctx)
		if err == nil {
			sv.mu.Lock()
			sv.sess = sess
			sv.mu.Unlock()

			slog.Info("session redial successful", "attempt", attempt)

			if sv.onSession != nil {
				sv.onSession(sess)
			}
			return
		}

		slog.Warn("session redial failed",
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-sv.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > sv.maxBackoff {
			currentBackoff = sv.maxBackoff
		}
	}

	slog.Error("session redial failed after max retries",
		"max_retries", sv.maxRetries,
	)
	sv.notifyDown()
}
