// Package wire defines the message vocabulary exchanged with the remote
// conversational service over the live session socket.
//
// Inbound text messages are JSON objects discriminated either by an "event"
// field (turn boundaries, flush, tool results) or by the presence of an
// "audioChunk" or "transcript" payload. Parse maps every inbound message to
// a closed set of [Kind] variants; unknown or malformed messages map to
// [KindIgnore] rather than an error, so a misbehaving server cannot disturb
// turn state.
//
// Outbound control commands are small JSON objects with a "type" field.
// Outbound audio is raw PCM16 sent as binary frames and is not represented
// here.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the closed set of inbound message variants.
type Kind int

const (
	// KindIgnore marks malformed or unrecognised messages. Dropped silently.
	KindIgnore Kind = iota

	// KindNewResponse marks a turn boundary start.
	KindNewResponse

	// KindModelSpeechStart marks the beginning of model speech output.
	KindModelSpeechStart

	// KindModelSpeechEnd marks the end of model speech output.
	KindModelSpeechEnd

	// KindFlushAudio is a server-initiated immediate stop of playback.
	KindFlushAudio

	// KindToolResult carries a side-channel tool result for the transcript.
	KindToolResult

	// KindAudioChunk carries one decoded frame of PCM16 playback audio.
	KindAudioChunk

	// KindTranscript carries incremental or full transcript text.
	KindTranscript

	// KindError carries a server-reported error notice.
	KindError
)

// InterruptedSentinel is the literal bot transcript the server substitutes
// when a response is cancelled. It is revealed immediately instead of being
// paced word by word.
const InterruptedSentinel = "[stopped]"

// Speaker values for transcript messages.
const (
	SpeakerUser = "user"
	SpeakerBot  = "bot"
)

// Message is one parsed inbound message. Only the fields relevant to its
// Kind are populated.
type Message struct {
	Kind Kind

	// Audio is the decoded PCM16 payload for KindAudioChunk.
	Audio []byte

	// Transcript and Who are set for KindTranscript.
	Transcript string
	Who        string

	// Function and Result are set for KindToolResult.
	Function string
	Result   map[string]any

	// Text is the notice for KindError.
	Text string
}

// envelope is the superset of inbound JSON shapes; exactly one payload group
// is populated per message.
type envelope struct {
	Event      string         `json:"event"`
	AudioChunk string         `json:"audioChunk"`
	Transcript *string        `json:"transcript"`
	Who        string         `json:"who"`
	Function   string         `json:"function"`
	Result     map[string]any `json:"result"`
	Error      string         `json:"error"`
}

// Parse maps one inbound text message to a Message. The returned error is
// non-nil only for a malformed audio chunk (bad base64); the message is
// then KindIgnore and the caller drops the single chunk and continues.
// All other malformed input parses to KindIgnore with a nil error.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, nil
	}

	switch env.Event {
	case "new_response":
		return Message{Kind: KindNewResponse}, nil
	case "model_speech_start":
		return Message{Kind: KindModelSpeechStart}, nil
	case "model_speech_end":
		return Message{Kind: KindModelSpeechEnd}, nil
	case "flush_audio":
		return Message{Kind: KindFlushAudio}, nil
	case "tool_result":
		return Message{Kind: KindToolResult, Function: env.Function, Result: env.Result}, nil
	case "":
		// Fall through to payload-discriminated shapes.
	default:
		return Message{}, nil
	}

	if env.AudioChunk != "" {
		pcm, err := base64.StdEncoding.DecodeString(env.AudioChunk)
		if err != nil {
			return Message{}, fmt.Errorf("wire: decode audio chunk: %w", err)
		}
		return Message{Kind: KindAudioChunk, Audio: pcm}, nil
	}

	if env.Transcript != nil {
		who := env.Who
		if who != SpeakerUser {
			who = SpeakerBot
		}
		return Message{Kind: KindTranscript, Transcript: *env.Transcript, Who: who}, nil
	}

	if env.Error != "" {
		return Message{Kind: KindError, Text: env.Error}, nil
	}

	return Message{}, nil
}

// command is the outbound control message shape.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StopCommand requests server-side cancellation of the current turn.
func StopCommand() []byte {
	return mustMarshal(command{Type: "stop"})
}

// CommitCommand asks the server to finalise any partially-buffered input.
// Sent once at session teardown.
func CommitCommand() []byte {
	return mustMarshal(command{Type: "commit"})
}

// InputTextCommand injects typed text into the live session.
func InputTextCommand(text string) []byte {
	return mustMarshal(command{Type: "input_text", Text: text})
}

// mustMarshal marshals fixed-shape structs that cannot fail.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// FormatToolResult renders a tool result for transcript display. Well-known
// functions get custom formatting; anything else renders as a completion
// marker so unknown tools never leak raw JSON into the transcript.
func FormatToolResult(function string, result map[string]any) string {
	switch function {
	case "find_coffee_shops":
		if s := formatCoffeeShops(result); s != "" {
			return s
		}
	case "calculate_brew_ratio":
		if advice, ok := result["advice"].(string); ok && advice != "" {
			return advice
		}
	}
	return fmt.Sprintf("[%s] completed.", function)
}

func formatCoffeeShops(result map[string]any) string {
	places, ok := result["places"].([]any)
	if !ok || len(places) == 0 {
		return ""
	}
	var parts []string
	for _, p := range places {
		place, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := place["name"].(string)
		if name == "" {
			continue
		}
		if addr, _ := place["address"].(string); addr != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, addr))
		} else {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	city, _ := result["city"].(string)
	where := ""
	if city != "" {
		where = " near " + city
	}
	return fmt.Sprintf("Found %d coffee shops%s: %s.", len(parts), where, strings.Join(parts, "; "))
}
