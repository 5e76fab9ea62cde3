package wire

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestParse_Events(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want Kind
	}{
		{"new response", `{"event":"new_response"}`, KindNewResponse},
		{"speech start", `{"event":"model_speech_start"}`, KindModelSpeechStart},
		{"speech end", `{"event":"model_speech_end"}`, KindModelSpeechEnd},
		{"flush", `{"event":"flush_audio"}`, KindFlushAudio},
		{"unknown event", `{"event":"whatever"}`, KindIgnore},
		{"empty object", `{}`, KindIgnore},
		{"not json", `...garbage`, KindIgnore},
		{"error notice", `{"error":"GPT connection failed"}`, KindError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg, err := Parse([]byte(tc.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Kind != tc.want {
				t.Errorf("kind: got %v, want %v", msg.Kind, tc.want)
			}
		})
	}
}

func TestParse_AudioChunk(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	in := `{"audioChunk":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`

	msg, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindAudioChunk {
		t.Fatalf("kind: got %v, want KindAudioChunk", msg.Kind)
	}
	if !bytes.Equal(msg.Audio, pcm) {
		t.Errorf("audio: got %v, want %v", msg.Audio, pcm)
	}
}

func TestParse_BadAudioChunkIsDropped(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"audioChunk":"!!! not base64 !!!"}`))
	if err == nil {
		t.Fatal("expected a decode error")
	}
	if msg.Kind != KindIgnore {
		t.Errorf("kind: got %v, want KindIgnore", msg.Kind)
	}
}

func TestParse_Transcript(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"transcript":"hold on","who":"user"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindTranscript || msg.Who != SpeakerUser || msg.Transcript != "hold on" {
		t.Errorf("got %+v", msg)
	}

	// Unknown speakers coerce to bot; an empty transcript is still a message.
	msg, _ = Parse([]byte(`{"transcript":"","who":"narrator"}`))
	if msg.Kind != KindTranscript || msg.Who != SpeakerBot {
		t.Errorf("got %+v", msg)
	}
}

func TestParse_ToolResult(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"event":"tool_result","function":"calculate_brew_ratio","result":{"advice":"Brew ratio: 1:16.0 (coffee:water)"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindToolResult || msg.Function != "calculate_brew_ratio" {
		t.Fatalf("got %+v", msg)
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()

	if got := string(StopCommand()); got != `{"type":"stop"}` {
		t.Errorf("stop: got %s", got)
	}
	if got := string(CommitCommand()); got != `{"type":"commit"}` {
		t.Errorf("commit: got %s", got)
	}
	if got := string(InputTextCommand("hi")); got != `{"type":"input_text","text":"hi"}` {
		t.Errorf("input_text: got %s", got)
	}
}

func TestFormatToolResult(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		function string
		result   map[string]any
		want     string
	}{
		{
			name:     "brew ratio",
			function: "calculate_brew_ratio",
			result:   map[string]any{"advice": "Brew ratio: 1:16.0 (coffee:water)"},
			want:     "Brew ratio: 1:16.0 (coffee:water)",
		},
		{
			name:     "coffee shops",
			function: "find_coffee_shops",
			result: map[string]any{
				"city": "Vienna",
				"places": []any{
					map[string]any{"name": "Kaffee Alt Wien", "address": "Bäckerstraße 9"},
					map[string]any{"name": "Phil"},
				},
			},
			want: "Found 2 coffee shops near Vienna: Kaffee Alt Wien (Bäckerstraße 9); Phil.",
		},
		{
			name:     "unknown function",
			function: "reindex_documents",
			result:   map[string]any{"count": 3.0},
			want:     "[reindex_documents] completed.",
		},
		{
			name:     "known function with unusable result",
			function: "find_coffee_shops",
			result:   map[string]any{"error": "Live search unavailable"},
			want:     "[find_coffee_shops] completed.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatToolResult(tc.function, tc.result); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
