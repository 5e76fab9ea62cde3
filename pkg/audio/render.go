package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// RenderBackend drains the playback ring at a fixed cadence. Two
// implementations exist: DeviceBackend renders through a malgo playback
// device callback (the primary, pull-based path), and TickerBackend drives
// the same drain from a wall-clock ticker for environments without a usable
// output device.
type RenderBackend interface {
	// Close stops rendering and releases the output. Idempotent.
	Close() error
}

// RenderConfig describes the playback stream.
type RenderConfig struct {
	SampleRate int
	// Quantum is the number of samples requested per render callback. It is
	// the worst-case stop latency: a Clear on the ring is audible by the
	// start of the next quantum.
	Quantum int
}

// DeviceBackend renders the ring through a malgo playback device. The device
// data callback is the real-time render domain: it only performs DrainInto
// plus one PCM16 encode into the device buffer, with no allocation and no
// waiting on the event domain.
type DeviceBackend struct {
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	ring    *Ring
	scratch []float32

	closeOnce sync.Once
}

// NewDeviceBackend opens the default playback device and begins draining ring.
func NewDeviceBackend(cfg RenderConfig, ring *Ring) (*DeviceBackend, error) {
	if cfg.SampleRate <= 0 || cfg.Quantum <= 0 {
		return nil, fmt.Errorf("audio: invalid render config %+v", cfg)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	b := &DeviceBackend{
		mctx: mctx,
		ring: ring,
		// Device callbacks may request more than one period; size the scratch
		// buffer generously so the callback never allocates.
		scratch: make([]float32, 8*cfg.Quantum),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.Quantum)

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			b.render(output, int(frameCount))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: init playback device: %w", err)
	}
	b.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: start playback device: %w", err)
	}
	return b, nil
}

// render runs on the device's audio thread once per quantum.
func (b *DeviceBackend) render(output []byte, frameCount int) {
	if frameCount > len(b.scratch) {
		frameCount = len(b.scratch)
	}
	dst := b.scratch[:frameCount]
	b.ring.DrainInto(dst)
	EncodePCM16Into(output, dst)
}

// Close stops the device. Idempotent.
func (b *DeviceBackend) Close() error {
	b.closeOnce.Do(func() {
		b.device.Uninit()
		if err := b.mctx.Uninit(); err != nil {
			slog.Warn("audio: playback context uninit", "err", err)
		}
		b.mctx.Free()
	})
	return nil
}
