// Package turn tracks the lifecycle of a single model response and routes
// server events to the playback queue and the transcript reveal scheduler.
//
// A [Machine] holds one of four states. Idle means no response is in flight.
// AwaitingFirstToken covers the window between the server announcing a new
// response and the first synthesized audio arriving. ModelSpeaking covers
// active audio delivery, and Flushing is the transient state entered while
// discarding a cancelled response. State only changes on the event goroutine,
// so transitions themselves need no locking; the drop flag is atomic because
// audio chunks may race with an interrupt issued from the barge-in path.
package turn

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/solenlabs/voiceloop/internal/wire"
	"github.com/solenlabs/voiceloop/pkg/audio"
)

// State is the lifecycle phase of the current model response.
type State int32

const (
	// Idle means no response is in flight and the playback queue is muted.
	Idle State = iota
	// AwaitingFirstToken means the server has opened a response but no audio
	// has arrived yet.
	AwaitingFirstToken
	// ModelSpeaking means synthesized audio is being queued for playback.
	ModelSpeaking
	// Flushing means a cancelled response is being discarded.
	Flushing
)

// String implements [fmt.Stringer] for log output.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFirstToken:
		return "awaiting_first_token"
	case ModelSpeaking:
		return "model_speaking"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Playback is the subset of the playback queue the machine drives. It is
// satisfied by [*audio.Ring].
type Playback interface {
	Push(samples []float32)
	Clear()
	SetPlaying(on bool)
	SetGain(g float32)
}

// Transcripts is the subset of the reveal scheduler the machine drives.
type Transcripts interface {
	SetTarget(text string)
	Append(text string)
	RevealAll()
	ForceText(text string)
	NewTurn()
	Reset()
}

// Compile-time assertion that the ring buffer satisfies Playback.
var _ Playback = (*audio.Ring)(nil)

// Machine routes server events for one voice session. All On* methods must be
// called from a single goroutine (the session read pump); DropAudio and
// ModelSpeaking are safe from any goroutine.
type Machine struct {
	playback    Playback
	transcripts Transcripts
	log         *slog.Logger

	state atomic.Int32
	drop  atomic.Bool

	chunksQueued  uint64
	chunksDropped uint64
}

// NewMachine returns a machine in the Idle state.
func NewMachine(playback Playback, transcripts Transcripts, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		playback:    playback,
		transcripts: transcripts,
		log:         log,
	}
}

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// ModelSpeaking reports whether audio delivery is active. Used by the
// barge-in controller to gate interrupts.
func (m *Machine) ModelSpeaking() bool {
	return m.State() == ModelSpeaking
}

// DropAudio marks all in-flight and future audio chunks of the current
// response as stale. The flag clears on the next response boundary.
func (m *Machine) DropAudio() {
	m.drop.Store(true)
}

// Dropping reports whether incoming audio for the current response is being
// discarded.
func (m *Machine) Dropping() bool {
	return m.drop.Load()
}

// OnNewResponse handles the server opening a fresh model response. It is the
// sole authoritative reset point: the queue is cleared of any stale tail, the
// output path is unmuted, and the transcript display starts a new turn.
func (m *Machine) OnNewResponse() {
	prev := m.State()
	m.playback.Clear()
	m.playback.SetGain(1)
	m.playback.SetPlaying(true)
	m.drop.Store(false)
	m.transcripts.NewTurn()
	m.state.Store(int32(AwaitingFirstToken))
	m.log.Debug("new response", "prev_state", prev)
}

// OnModelSpeechStart handles the first-audio announcement. When the state was
// Idle the new_response event was lost, so the display is reset here as a
// fallback; an in-order stream never takes that path.
func (m *Machine) OnModelSpeechStart() {
	if m.State() == Idle {
		m.transcripts.Reset()
	}
	m.drop.Store(false)
	m.playback.SetGain(1)
	m.playback.SetPlaying(true)
	m.state.Store(int32(ModelSpeaking))
}

// OnModelSpeechEnd marks the natural end of a response. Audio already queued
// keeps draining and the reveal scheduler keeps pacing; only the phase
// changes.
func (m *Machine) OnModelSpeechEnd() {
	m.state.Store(int32(Idle))
}

// OnFlushAudio discards the remainder of a cancelled response: queued audio
// is dropped, the output path mutes, and any transcript text still held back
// by pacing is shown at once.
func (m *Machine) OnFlushAudio() {
	m.state.Store(int32(Flushing))
	m.playback.Clear()
	m.playback.SetPlaying(false)
	m.transcripts.RevealAll()
	m.state.Store(int32(Idle))
}

// OnToolResult formats a tool invocation result and appends it to the
// transcript display.
func (m *Machine) OnToolResult(function string, result map[string]any) {
	m.transcripts.Append(wire.FormatToolResult(function, result))
}

// OnAudioChunk decodes and queues one synthesized audio frame. It reports
// whether the frame reached the queue; frames arriving while the drop flag is
// set are counted and discarded.
func (m *Machine) OnAudioChunk(pcm []byte) (bool, error) {
	if m.drop.Load() {
		m.chunksDropped++
		return false, nil
	}
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return false, fmt.Errorf("decoding audio chunk: %w", err)
	}
	m.playback.Push(samples)
	m.chunksQueued++
	if m.State() == AwaitingFirstToken {
		m.state.Store(int32(ModelSpeaking))
	}
	return true, nil
}

// OnBotTranscript feeds an updated bot transcript into the reveal scheduler.
// The interruption sentinel bypasses pacing and replaces the display
// immediately.
func (m *Machine) OnBotTranscript(text string) {
	if text == wire.InterruptedSentinel {
		m.transcripts.ForceText(text)
		return
	}
	m.transcripts.SetTarget(text)
}

// ChunkStats returns the number of audio chunks queued and dropped since the
// machine was created. Only meaningful from the event goroutine.
func (m *Machine) ChunkStats() (queued, dropped uint64) {
	return m.chunksQueued, m.chunksDropped
}

// Teardown silences output and clears all turn state. Called when the
// session closes.
func (m *Machine) Teardown() {
	m.playback.Clear()
	m.playback.SetPlaying(false)
	m.drop.Store(false)
	m.transcripts.Reset()
	m.state.Store(int32(Idle))
}
