// Package app wires all voiceloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the supervised voice session until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithFrames,
// WithRenderBackend, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solenlabs/voiceloop/internal/bargein"
	"github.com/solenlabs/voiceloop/internal/config"
	"github.com/solenlabs/voiceloop/internal/health"
	"github.com/solenlabs/voiceloop/internal/observe"
	"github.com/solenlabs/voiceloop/internal/reveal"
	"github.com/solenlabs/voiceloop/internal/session"
	"github.com/solenlabs/voiceloop/internal/turn"
	"github.com/solenlabs/voiceloop/pkg/audio"
)

// statsInterval is how often playback counters are flushed to metrics.
const statsInterval = 5 * time.Second

// errNoSession is returned when a stop command has no live session to go to.
var errNoSession = errors.New("app: no live session")

// App owns all subsystem lifetimes and orchestrates the voice loop:
// microphone capture feeding the websocket session, the turn machine feeding
// the playback ring, and the reveal scheduler feeding the display.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	level   *slog.LevelVar

	ring       *audio.Ring
	render     audio.RenderBackend
	capture    *audio.CaptureDevice
	frames     <-chan []float32
	scheduler  *reveal.Scheduler
	machine    *turn.Machine
	interrupt  *swappableInterrupter
	supervisor *session.Supervisor
	watcher    *config.Watcher
	diag       *http.Server

	display    func(role, text string)
	tickerSink io.Writer
	configPath string

	// runCtx is the context sessions run under; set once in Run before the
	// first dial.
	runCtx context.Context

	// revealedWords tracks the word count last published, so the reveal
	// counter records deltas rather than totals.
	revealedWords atomic.Int64

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLevelVar attaches the handler's level variable so config reloads can
// change verbosity without recreating the logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects a metrics bundle instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithFrames injects a capture frame source instead of opening a microphone.
func WithFrames(frames <-chan []float32) Option {
	return func(a *App) { a.frames = frames }
}

// WithRenderBackend injects a render backend instead of creating one from
// the audio config.
func WithRenderBackend(b audio.RenderBackend) Option {
	return func(a *App) { a.render = b }
}

// WithDisplay injects the transcript display callback. role is "you", "bot",
// or "notice". Defaults to writing lines to stdout.
func WithDisplay(fn func(role, text string)) Option {
	return func(a *App) { a.display = fn }
}

// WithTickerSink sets where the ticker render backend writes PCM16 bytes.
// Only consulted when audio.backend is "ticker". Defaults to io.Discard.
func WithTickerSink(w io.Writer) Option {
	return func(a *App) { a.tickerSink = w }
}

// WithConfigPath enables hot reload by watching path for changes. Only the
// log level, reveal pacing, and barge-in tuning are applied live.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Construction is
// synchronous: the microphone and output device are opened here, so a missing
// device surfaces as an error before any connection is attempted. The
// websocket session is not dialled until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.display == nil {
		a.display = stdoutDisplay
	}
	if a.tickerSink == nil {
		a.tickerSink = io.Discard
	}

	// ── 1. Playback queue + reveal scheduler ─────────────────────────────
	a.ring = audio.NewRing()
	a.scheduler = reveal.New(a.publishBot, revealOptions(cfg.Reveal)...)
	a.closers = append(a.closers, func() error {
		a.scheduler.Close()
		return nil
	})

	// ── 2. Turn machine ──────────────────────────────────────────────────
	a.machine = turn.NewMachine(a.ring, a.scheduler, a.log)

	// ── 3. Supervisor + barge-in ─────────────────────────────────────────
	a.supervisor = session.NewSupervisor(session.SupervisorConfig{
		Dial:       a.dialSession,
		MaxRetries: cfg.Endpoint.MaxRedials,
		NoRedial:   cfg.Endpoint.MaxRedials <= 0,
		OnSession:  a.onSession,
		OnDown:     a.sessionDown,
	})
	a.interrupt = &swappableInterrupter{}
	ctrl, err := a.buildBargeIn(cfg.BargeIn)
	if err != nil {
		return nil, fmt.Errorf("app: init barge-in: %w", err)
	}
	a.interrupt.swap(ctrl)

	// ── 4. Capture ───────────────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 5. Render ────────────────────────────────────────────────────────
	if err := a.initRender(); err != nil {
		return nil, fmt.Errorf("app: init render: %w", err)
	}

	// ── 6. Diagnostics server ────────────────────────────────────────────
	a.initDiagnostics()

	// ── 7. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyReload)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCapture opens the microphone unless a frame source was injected.
func (a *App) initCapture() error {
	if a.frames != nil {
		return nil
	}
	dev, err := audio.NewCaptureDevice(audio.CaptureConfig{
		SampleRate:  a.cfg.Audio.SampleRate,
		FrameLength: a.cfg.Audio.FrameSamples,
	})
	if err != nil {
		return err
	}
	a.capture = dev
	a.frames = dev.Frames()
	a.closers = append(a.closers, dev.Close)
	return nil
}

// initRender creates the render backend selected by the audio config unless
// one was injected.
func (a *App) initRender() error {
	if a.render != nil {
		return nil
	}
	rc := audio.RenderConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		Quantum:    a.cfg.Audio.Quantum,
	}
	switch a.cfg.Audio.Backend {
	case config.BackendTicker:
		a.render = audio.NewTickerBackend(rc, a.ring, a.tickerSink)
	default:
		dev, err := audio.NewDeviceBackend(rc, a.ring)
		if err != nil {
			return err
		}
		a.render = dev
	}
	a.closers = append(a.closers, a.render.Close)
	return nil
}

// initDiagnostics builds the /metrics and health mux when an address is
// configured.
func (a *App) initDiagnostics() {
	if a.cfg.Server.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	h := health.New(
		health.SessionUp(a.supervisor),
		health.CaptureUp(a.captureProbe),
	)
	h.Register(mux)
	a.diag = &http.Server{
		Addr:    a.cfg.Server.MetricsAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// captureProbe reports whether a microphone frame source exists.
func (a *App) captureProbe() error {
	if a.frames == nil {
		return errors.New("no capture source")
	}
	return nil
}

// buildBargeIn constructs a controller from barge-in config.
func (a *App) buildBargeIn(bc config.BargeInConfig) (*bargein.Controller, error) {
	opts := []bargein.Option{}
	if len(bc.Vocabulary) > 0 {
		opts = append(opts, bargein.WithVocabulary(bc.Vocabulary))
	}
	if bc.DebounceMS > 0 {
		opts = append(opts, bargein.WithDebounce(bc.Debounce()))
	}
	if bc.FuzzyThreshold != 0 {
		opts = append(opts, bargein.WithFuzzyThreshold(bc.FuzzyThreshold))
	}
	return bargein.New(a.machine, a.ring, stopSender{a.supervisor}, a.log, opts...)
}

// dialSession establishes one websocket session from the endpoint config.
func (a *App) dialSession(ctx context.Context) (*session.Session, error) {
	return session.Dial(ctx, session.Config{
		URL:    a.cfg.Endpoint.URL,
		APIKey: a.cfg.Endpoint.APIKey,
	},
		session.WithMetrics(a.metrics),
		session.WithUserTextHandler(func(text string) { a.display("you", text) }),
		session.WithNoticeHandler(func(text string) { a.display("notice", text) }),
	)
}

// onSession starts the pump loops for every session the supervisor
// establishes, including redials.
func (a *App) onSession(sess *session.Session) {
	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := sess.Run(ctx, a.machine, a.interrupt, a.frames); err != nil {
			a.log.Warn("session ended", "err", err)
		}
	}()
}

// sessionDown runs when the session has ended and no replacement is coming.
// The supervisor has already cleared its handle, turning readiness red; this
// tells the user and releases the microphone.
func (a *App) sessionDown() {
	a.log.Info("voice session down")
	a.display("notice", "voice session ended")
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			a.log.Warn("capture close", "err", err)
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run dials the initial session, starts supervision and the diagnostics
// server, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.runCtx = ctx

	if _, err := a.supervisor.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	// Redial itself is opt-in, but the monitor always runs: a session that
	// ends without a replacement must drop readiness, notify the user, and
	// release the microphone.
	a.supervisor.Monitor(ctx)

	if a.diag != nil {
		go func() {
			a.log.Info("diagnostics listening", "addr", a.diag.Addr)
			if err := a.diag.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("diagnostics server failed", "err", err)
			}
		}()
	}

	go a.statsLoop(ctx)

	a.log.Info("voice loop running", "endpoint", a.cfg.Endpoint.URL)
	<-ctx.Done()
	return ctx.Err()
}

// statsLoop periodically flushes playback and capture counters to metrics.
func (a *App) statsLoop(ctx context.Context) {
	var lastUnderruns, lastDropped uint64
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, underruns := a.ring.Stats()
			if d := underruns - lastUnderruns; d > 0 {
				a.metrics.PlaybackUnderruns.Add(ctx, int64(d))
				lastUnderruns = underruns
			}
			if a.capture != nil {
				dropped := a.capture.Dropped()
				for ; lastDropped < dropped; lastDropped++ {
					a.metrics.RecordCaptureFrame(ctx, "dropped")
				}
			}
		}
	}
}

// publishBot is the reveal scheduler's publish callback. It forwards the
// paced text to the display and records newly revealed words.
func (a *App) publishBot(text string) {
	a.display("bot", text)

	n := int64(len(strings.Fields(text)))
	prev := a.revealedWords.Swap(n)
	if d := n - prev; d > 0 {
		a.metrics.RevealedWords.Add(context.Background(), d)
	}
}

// SendText forwards typed input to the live session.
func (a *App) SendText(text string) error {
	sess := a.supervisor.Session()
	if sess == nil {
		return errNoSession
	}
	return sess.SendText(text)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyReload applies a changed config file. Only the log level, reveal
// pacing, and barge-in tuning take effect live; endpoint and audio changes
// need a restart.
func (a *App) applyReload(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.RevealChanged {
		base, clause, sentence, grace := revealDurations(next.Reveal)
		a.scheduler.SetPacing(base, clause, sentence, grace)
		a.log.Info("reveal pacing changed")
	}

	if d.BargeInChanged {
		ctrl, err := a.buildBargeIn(next.BargeIn)
		if err != nil {
			a.log.Error("barge-in reload rejected", "err", err)
		} else {
			a.interrupt.swap(ctrl)
			a.log.Info("barge-in tuning changed")
		}
	}

	a.cfg = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.supervisor.Stop(); err != nil {
			a.log.Warn("supervisor stop error", "err", err)
		}
		if a.diag != nil {
			if err := a.diag.Shutdown(ctx); err != nil {
				a.log.Warn("diagnostics shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// swappableInterrupter lets config reloads replace the barge-in controller
// while a session holds a stable Interrupter reference.
type swappableInterrupter struct {
	v atomic.Pointer[bargein.Controller]
}

func (s *swappableInterrupter) swap(c *bargein.Controller) { s.v.Store(c) }

func (s *swappableInterrupter) OnUserTranscript(text string) bool {
	c := s.v.Load()
	if c == nil {
		return false
	}
	return c.OnUserTranscript(text)
}

var _ session.Interrupter = (*swappableInterrupter)(nil)

// stopSender routes stop commands to whichever session is currently live.
type stopSender struct {
	sv *session.Supervisor
}

func (s stopSender) SendStop() error {
	sess := s.sv.Session()
	if sess == nil {
		return errNoSession
	}
	return sess.SendStop()
}

var _ bargein.StopSender = stopSender{}

// revealDurations converts reveal config to durations, substituting package
// defaults for zero values.
func revealDurations(rc config.RevealConfig) (base, clause, sentence, grace time.Duration) {
	base = reveal.DefaultBaseDelay
	if rc.BaseDelayMS > 0 {
		base = time.Duration(rc.BaseDelayMS) * time.Millisecond
	}
	clause = reveal.DefaultClausePause
	if rc.ClausePauseMS > 0 {
		clause = time.Duration(rc.ClausePauseMS) * time.Millisecond
	}
	sentence = reveal.DefaultSentencePause
	if rc.SentencePauseMS > 0 {
		sentence = time.Duration(rc.SentencePauseMS) * time.Millisecond
	}
	grace = reveal.DefaultPlaceholderGrace
	if rc.PlaceholderGraceMS > 0 {
		grace = time.Duration(rc.PlaceholderGraceMS) * time.Millisecond
	}
	return base, clause, sentence, grace
}

// revealOptions builds scheduler options from reveal config.
func revealOptions(rc config.RevealConfig) []reveal.Option {
	base, clause, sentence, grace := revealDurations(rc)
	return []reveal.Option{
		reveal.WithBaseDelay(base),
		reveal.WithClausePause(clause),
		reveal.WithSentencePause(sentence),
		reveal.WithPlaceholderGrace(grace),
	}
}

// stdoutDisplay writes transcript lines to the terminal; the bot line is
// redrawn in place as words reveal.
func stdoutDisplay(role, text string) {
	switch role {
	case "bot":
		fmt.Fprintf(os.Stdout, "\r\033[K%s", text)
	case "you":
		fmt.Fprintf(os.Stdout, "\n[you] %s\n", text)
	default:
		fmt.Fprintf(os.Stderr, "\n[%s] %s\n", role, text)
	}
}
