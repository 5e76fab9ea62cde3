package audio

import (
	"errors"
	"testing"
)

func TestDecodePCM16(t *testing.T) {
	t.Parallel()

	// 0x7FFF = 32767 → 1.0, 0x8001 = -32767 → -1.0, zero stays zero.
	data := []byte{0xFF, 0x7F, 0x01, 0x80, 0x00, 0x00}
	got, err := DecodePCM16(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{1, -1, 0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	t.Parallel()

	_, err := DecodePCM16([]byte{0x01, 0x02, 0x03})
	if !errors.Is(err, ErrOddLength) {
		t.Fatalf("got %v, want ErrOddLength", err)
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()

	out := EncodePCM16([]float32{2.0, -2.0, 0})
	if len(out) != 6 {
		t.Fatalf("got %d bytes, want 6", len(out))
	}
	hi := int16(out[0]) | int16(out[1])<<8
	lo := int16(out[2]) | int16(out[3])<<8
	if hi != 32767 {
		t.Errorf("over-range sample: got %d, want 32767", hi)
	}
	if lo != -32768 {
		t.Errorf("under-range sample: got %d, want -32768", lo)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.5, -0.5, 1, -1}
	got, err := DecodePCM16(EncodePCM16(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		diff := got[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		// One quantisation step of slack.
		if diff > 1.0/pcm16Scale {
			t.Errorf("sample %d: got %v, want %v", i, got[i], in[i])
		}
	}
}

func TestEncodeFrame_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	if got := EncodeFrame(nil); got != nil {
		t.Errorf("EncodeFrame(nil) = %v, want nil", got)
	}
	if got := EncodeFrame([]float32{}); got != nil {
		t.Errorf("EncodeFrame(empty) = %v, want nil", got)
	}
}
