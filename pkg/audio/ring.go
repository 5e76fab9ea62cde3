package audio

import (
	"math"
	"sync"
	"sync/atomic"
)

// Ring is the playback queue shared between the event domain (which pushes
// decoded model audio) and the render domain (which drains it at a fixed
// quantum). It is strictly FIFO and unbounded: the remote service paces
// itself by turn boundaries, so no backpressure is applied here.
//
// Safe for exactly one concurrent writer (Push/Clear/SetPlaying/SetGain) and
// one concurrent reader (Drain/DrainInto). The internal lock is held only for
// pointer-sized bookkeeping and one memcpy per drain quantum, so the render
// callback never waits on more than a few microseconds of writer work.
//
// A Clear issued between two drains is guaranteed visible to the next drain:
// drain acquires the same lock and observes the emptied queue, which bounds
// the worst-case stop latency at one render quantum.
type Ring struct {
	mu     sync.Mutex
	chunks [][]float32
	head   int // consumed samples of chunks[0]

	playing atomic.Bool
	gain    atomic.Uint32 // float32 bits; applied during drain

	pushed    atomic.Uint64 // samples pushed since creation
	drained   atomic.Uint64 // samples emitted from queued data
	underruns atomic.Uint64 // drains that ran out of queued data while playing
}

// NewRing returns an empty ring with playback disabled and unity gain.
func NewRing() *Ring {
	r := &Ring{}
	r.gain.Store(math.Float32bits(1))
	return r
}

// Push appends one chunk to the tail of the queue. Ownership of the slice
// passes to the ring; callers must not reuse it.
func (r *Ring) Push(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()
	r.pushed.Add(uint64(len(chunk)))
}

// Clear atomically discards all queued and partially-consumed data. Safe to
// call concurrently with an in-progress drain; takes effect no later than the
// next drain call.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.chunks = nil
	r.head = 0
	r.mu.Unlock()
}

// SetPlaying gates drain output. When disabled, drains emit silence without
// consuming queued data, so re-enabling resumes mid-stream unless the queue
// was cleared in between.
func (r *Ring) SetPlaying(enabled bool) {
	r.playing.Store(enabled)
}

// Playing reports the current gate state.
func (r *Ring) Playing() bool {
	return r.playing.Load()
}

// SetGain sets the output gain applied sample-wise during drain. The barge-in
// path sets it to zero for an immediate hard cut with no fade.
func (r *Ring) SetGain(g float32) {
	if g < 0 {
		g = 0
	} else if g > 1 {
		g = 1
	}
	r.gain.Store(math.Float32bits(g))
}

// Drain pulls exactly n samples, zero-filling once the queue is exhausted.
// It never blocks and never errors. Prefer DrainInto on the render path.
func (r *Ring) Drain(n int) []float32 {
	out := make([]float32, n)
	r.DrainInto(out)
	return out
}

// DrainInto fills dst with the next len(dst) samples of queued audio in
// arrival order, zero-filling any shortfall. When the playback gate is off,
// dst is zeroed and nothing is consumed.
func (r *Ring) DrainInto(dst []float32) {
	if !r.playing.Load() {
		zero(dst)
		return
	}

	r.mu.Lock()
	n := 0
	for n < len(dst) && len(r.chunks) != 0 {
		c := r.chunks[0]
		copied := copy(dst[n:], c[r.head:])
		n += copied
		r.head += copied
		if r.head == len(c) {
			r.chunks[0] = nil
			r.chunks = r.chunks[1:]
			r.head = 0
		}
	}
	r.mu.Unlock()

	if n < len(dst) {
		zero(dst[n:])
		if n > 0 {
			r.underruns.Add(1)
		}
	}
	r.drained.Add(uint64(n))

	if g := math.Float32frombits(r.gain.Load()); g != 1 {
		for i := range dst[:n] {
			dst[i] *= g
		}
	}
}

// Buffered returns the number of queued samples not yet drained.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := -r.head
	for _, c := range r.chunks {
		n += len(c)
	}
	return n
}

// Stats reports lifetime counters: samples pushed, samples drained from
// queued data, and drains that hit an underrun mid-stream.
func (r *Ring) Stats() (pushed, drained, underruns uint64) {
	return r.pushed.Load(), r.drained.Load(), r.underruns.Load()
}

func zero(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
