// Package session maintains the persistent full-duplex websocket connection
// to the voice endpoint. A [Session] runs two pumps: the send pump streams
// captured microphone frames as binary PCM16 messages, and the read pump
// parses interleaved JSON events and dispatches them to the turn machine and
// the barge-in detector. Control commands (stop, commit, typed text) share
// the socket with the send pump behind a write lock.
//
// A [Supervisor] owns at most one live session at a time and redials with
// exponential backoff when the connection drops.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/solenlabs/voiceloop/internal/observe"
	"github.com/solenlabs/voiceloop/internal/turn"
	"github.com/solenlabs/voiceloop/internal/wire"
	"github.com/solenlabs/voiceloop/pkg/audio"
)

// EventSink receives parsed server events in arrival order. It is satisfied
// by [*turn.Machine].
type EventSink interface {
	OnNewResponse()
	OnModelSpeechStart()
	OnModelSpeechEnd()
	OnFlushAudio()
	OnToolResult(function string, result map[string]any)
	OnAudioChunk(pcm []byte) (bool, error)
	OnBotTranscript(text string)
	Teardown()
}

// Compile-time assertion that the turn machine satisfies EventSink.
var _ EventSink = (*turn.Machine)(nil)

// Interrupter inspects user transcripts for interruption phrases. It is
// satisfied by [*bargein.Controller].
type Interrupter interface {
	OnUserTranscript(text string) bool
}

// Config holds the endpoint parameters for one session.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string

	// APIKey, when non-empty, is sent as a bearer token on the dial request.
	APIKey string
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithUserTextHandler registers a callback for finalised and partial user
// transcripts, called from the read pump.
func WithUserTextHandler(fn func(text string)) Option {
	return func(s *Session) { s.onUserText = fn }
}

// WithNoticeHandler registers a callback for server-sent error notices.
func WithNoticeHandler(fn func(text string)) Option {
	return func(s *Session) { s.onNotice = fn }
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live websocket connection. Create it with [Dial], drive it
// with [Session.Run], and tear it down with [Session.Close]. All exported
// methods are safe for concurrent use.
type Session struct {
	conn    *websocket.Conn
	metrics *observe.Metrics

	onUserText func(string)
	onNotice   func(string)

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	started   time.Time
}

// Dial connects to the voice endpoint and returns a session ready for
// [Session.Run]. The context bounds the dial only; the session itself lives
// until [Session.Close].
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	var header http.Header
	if cfg.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + cfg.APIKey}}
	}
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", cfg.URL, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:    conn,
		ctx:     sessCtx,
		cancel:  sessCancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Run pumps the session until the connection drops, the context is
// cancelled, or [Session.Close] is called. Captured frames read from frames
// are sent as binary PCM16; inbound events are dispatched to sink and intr.
// intr may be nil to disable interruption detection. Run always returns
// after tearing down the sink; a clean shutdown returns nil.
//
// The whole run is one trace span, so warnings logged from the pumps carry
// the session's trace and span IDs.
func (s *Session) Run(ctx context.Context, sink EventSink, intr Interrupter, frames <-chan []float32) error {
	ctx, span := observe.StartSpan(ctx, "session.run")
	defer span.End()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.metrics.SessionDuration.Record(context.Background(), time.Since(s.started).Seconds())
		sink.Teardown()
		s.Close()
		close(s.done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump(gctx, sink, intr) })
	g.Go(func() error { return s.sendPump(gctx, frames) })

	err := g.Wait()
	if err == nil || s.closing(err) {
		return nil
	}
	return err
}

// Done returns a channel closed when [Session.Run] has returned and the
// session is fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// readPump reads inbound messages and dispatches them until the connection
// fails or gctx is cancelled.
func (s *Session) readPump(gctx context.Context, sink EventSink, intr Interrupter) error {
	for {
		typ, data, err := s.conn.Read(gctx)
		if err != nil {
			return fmt.Errorf("session: read: %w", err)
		}
		if typ != websocket.MessageText {
			// The server never sends binary; skip rather than fail so one
			// stray frame cannot kill the session.
			continue
		}

		msg, err := wire.Parse(data)
		if err != nil {
			observe.Logger(gctx).Warn("dropping malformed audio chunk", "error", err)
			s.metrics.RecordAudioChunk(gctx, "invalid")
			continue
		}
		s.dispatch(gctx, msg, sink, intr)
	}
}

// dispatch routes one parsed message. Runs on the read pump goroutine, so
// sink event ordering matches arrival order.
func (s *Session) dispatch(ctx context.Context, msg wire.Message, sink EventSink, intr Interrupter) {
	switch msg.Kind {
	case wire.KindNewResponse:
		s.metrics.RecordWSMessage(ctx, "in", "new_response")
		sink.OnNewResponse()

	case wire.KindModelSpeechStart:
		s.metrics.RecordWSMessage(ctx, "in", "model_speech_start")
		sink.OnModelSpeechStart()

	case wire.KindModelSpeechEnd:
		s.metrics.RecordWSMessage(ctx, "in", "model_speech_end")
		sink.OnModelSpeechEnd()

	case wire.KindFlushAudio:
		s.metrics.RecordWSMessage(ctx, "in", "flush_audio")
		sink.OnFlushAudio()

	case wire.KindToolResult:
		s.metrics.RecordWSMessage(ctx, "in", "tool_result")
		sink.OnToolResult(msg.Function, msg.Result)

	case wire.KindAudioChunk:
		queued, err := sink.OnAudioChunk(msg.Audio)
		switch {
		case err != nil:
			observe.Logger(ctx).Warn("dropping undecodable audio chunk", "error", err)
			s.metrics.RecordAudioChunk(ctx, "invalid")
		case queued:
			s.metrics.RecordAudioChunk(ctx, "queued")
		default:
			s.metrics.RecordAudioChunk(ctx, "dropped")
		}

	case wire.KindTranscript:
		s.metrics.RecordWSMessage(ctx, "in", "transcript")
		if msg.Who == wire.SpeakerUser {
			if s.onUserText != nil {
				s.onUserText(msg.Transcript)
			}
			if intr != nil {
				start := time.Now()
				if intr.OnUserTranscript(msg.Transcript) {
					s.metrics.RecordBargeIn(ctx, time.Since(start))
				}
			}
			return
		}
		sink.OnBotTranscript(msg.Transcript)

	case wire.KindError:
		s.metrics.RecordWSMessage(ctx, "in", "error")
		observe.Logger(ctx).Warn("server error notice", "message", msg.Text)
		if s.onNotice != nil {
			s.onNotice(msg.Text)
		}

	case wire.KindIgnore:
		// Unknown event or payload shape. Forward compatible, skip.
	}
}

// sendPump streams captured frames as binary PCM16 messages. A closed frames
// channel ends the pump cleanly.
func (s *Session) sendPump(gctx context.Context, frames <-chan []float32) error {
	for {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			payload := audio.EncodePCM16(frame)
			if err := s.write(websocket.MessageBinary, payload); err != nil {
				return fmt.Errorf("session: send frame: %w", err)
			}
			s.metrics.RecordCaptureFrame(gctx, "sent")
		}
	}
}

// SendStop requests server-side cancellation of the current model turn.
func (s *Session) SendStop() error {
	if err := s.write(websocket.MessageText, wire.StopCommand()); err != nil {
		return fmt.Errorf("session: send stop: %w", err)
	}
	s.metrics.RecordWSMessage(s.ctx, "out", "stop")
	return nil
}

// SendCommit asks the server to finalise any partially-buffered input.
func (s *Session) SendCommit() error {
	if err := s.write(websocket.MessageText, wire.CommitCommand()); err != nil {
		return fmt.Errorf("session: send commit: %w", err)
	}
	s.metrics.RecordWSMessage(s.ctx, "out", "commit")
	return nil
}

// SendText injects typed text into the live conversation.
func (s *Session) SendText(text string) error {
	if err := s.write(websocket.MessageText, wire.InputTextCommand(text)); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	s.metrics.RecordWSMessage(s.ctx, "out", "input_text")
	return nil
}

// write serialises all socket writes; the send pump and control commands
// share the connection.
func (s *Session) write(typ websocket.MessageType, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, typ, data)
}

// Close tears the session down. The commit command is sent best-effort so
// the server can finalise buffered input before the socket goes away.
// Idempotent; [Session.Run] unblocks shortly after.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.SendCommit()
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// closing reports whether err is the expected fallout of Close or context
// cancellation rather than a transport failure.
func (s *Session) closing(err error) bool {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
