package audio

import "testing"

func drainAll(t *testing.T, r *Ring, window, total int) []float32 {
	t.Helper()
	var out []float32
	for len(out) < total {
		out = append(out, r.Drain(window)...)
	}
	return out[:total]
}

func TestRing_FIFOAcrossWindows(t *testing.T) {
	t.Parallel()

	r := NewRing()
	r.SetPlaying(true)
	r.Push([]float32{1, 2, 3})
	r.Push([]float32{4, 5})
	r.Push([]float32{6, 7, 8, 9})

	// Drain in windows that straddle chunk boundaries; output must be the
	// concatenation in push order, zero-filled only after exhaustion.
	got := drainAll(t, r, 4, 12)
	want := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRing_ClearThenDrainIsSilence(t *testing.T) {
	t.Parallel()

	r := NewRing()
	r.SetPlaying(true)
	r.Push([]float32{1, 1, 1, 1})
	r.Drain(2) // partially consume the head chunk
	r.Clear()

	for i, s := range r.Drain(8) {
		if s != 0 {
			t.Fatalf("sample %d after Clear: got %v, want 0", i, s)
		}
	}
	if got := r.Buffered(); got != 0 {
		t.Errorf("Buffered after Clear: got %d, want 0", got)
	}
}

func TestRing_MutePreservesQueue(t *testing.T) {
	t.Parallel()

	r := NewRing()
	r.SetPlaying(true)
	r.Push([]float32{1, 2, 3, 4})

	r.SetPlaying(false)
	for i, s := range r.Drain(4) {
		if s != 0 {
			t.Fatalf("muted sample %d: got %v, want 0", i, s)
		}
	}

	// Mute must not consume: re-enabling resumes from the start of the queue.
	r.SetPlaying(true)
	got := r.Drain(4)
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d after unmute: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRing_ZeroGainSilencesWithoutClearing(t *testing.T) {
	t.Parallel()

	r := NewRing()
	r.SetPlaying(true)
	r.Push([]float32{0.5, 0.5})
	r.SetGain(0)

	for i, s := range r.Drain(2) {
		if s != 0 {
			t.Fatalf("sample %d with zero gain: got %v, want 0", i, s)
		}
	}
}

func TestRing_UnderrunCounted(t *testing.T) {
	t.Parallel()

	r := NewRing()
	r.SetPlaying(true)
	r.Push([]float32{1})
	r.Drain(4) // 1 real sample + 3 zero-fill

	if _, _, underruns := r.Stats(); underruns != 1 {
		t.Errorf("underruns: got %d, want 1", underruns)
	}

	// An idle drain with nothing buffered is not an underrun.
	r.Drain(4)
	if _, _, underruns := r.Stats(); underruns != 1 {
		t.Errorf("underruns after idle drain: got %d, want 1", underruns)
	}
}
