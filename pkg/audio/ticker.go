package audio

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// TickerBackend is the fallback render backend for environments without a
// dedicated render callback: a wall-clock ticker drains the ring once per
// quantum and writes PCM16 bytes to a sink (a playback pipe, a file, or a
// test buffer). Stop latency is the same one-quantum bound as the device
// path, since every tick re-reads the ring state.
type TickerBackend struct {
	ring    *Ring
	sink    io.Writer
	period  time.Duration
	quantum int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTickerBackend starts draining ring every period, writing cfg.Quantum
// samples per tick to sink. Write errors are logged and rendering continues;
// the sink is expected to fail persistently only when the session is already
// tearing down.
func NewTickerBackend(cfg RenderConfig, ring *Ring, sink io.Writer) *TickerBackend {
	period := time.Duration(cfg.Quantum) * time.Second / time.Duration(cfg.SampleRate)
	b := &TickerBackend{
		ring:    ring,
		sink:    sink,
		period:  period,
		quantum: cfg.Quantum,
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *TickerBackend) run() {
	defer b.wg.Done()

	samples := make([]float32, b.quantum)
	buf := make([]byte, b.quantum*2)
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	var warned bool
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.ring.DrainInto(samples)
			n := EncodePCM16Into(buf, samples)
			if _, err := b.sink.Write(buf[:n]); err != nil && !warned {
				warned = true
				slog.Warn("audio: ticker sink write failed", "err", err)
			}
		}
	}
}

// Close stops the ticker loop. Idempotent.
func (b *TickerBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
	return nil
}
