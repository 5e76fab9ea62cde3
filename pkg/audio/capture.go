package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// CaptureConfig describes the microphone stream. The sample rate must match
// the wire rate expected by the remote service; no resampling happens on the
// capture path.
type CaptureConfig struct {
	SampleRate  int
	FrameLength int // samples per emitted frame
}

// CaptureDevice owns a malgo capture device and emits fixed-length frames of
// normalized samples on Frames. The device runs for the whole session: the
// microphone stays hot even while the model is speaking so that barge-in
// speech reaches the remote recogniser.
type CaptureDevice struct {
	cfg    CaptureConfig
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	frames chan []float32

	pending []float32 // partial frame accumulated across callbacks
	dropped atomic.Uint64

	closeOnce sync.Once
}

// NewCaptureDevice initialises the default capture device. It returns an
// error when no microphone is available or access is denied; per the session
// error policy the caller surfaces this once and does not retry.
func NewCaptureDevice(cfg CaptureConfig) (*CaptureDevice, error) {
	if cfg.SampleRate <= 0 || cfg.FrameLength <= 0 {
		return nil, fmt.Errorf("audio: invalid capture config %+v", cfg)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	c := &CaptureDevice{
		cfg:    cfg,
		mctx:   mctx,
		frames: make(chan []float32, 32),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameLength)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onData(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: init capture device: %w", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: start capture device: %w", err)
	}
	return c, nil
}

// Frames returns the channel of captured frames. The channel is closed by
// Close.
func (c *CaptureDevice) Frames() <-chan []float32 {
	return c.frames
}

// Dropped reports how many frames were discarded because the consumer fell
// behind.
func (c *CaptureDevice) Dropped() uint64 {
	return c.dropped.Load()
}

// onData runs on the device's capture thread. It decodes the PCM16 input,
// slices it into fixed-length frames, and hands them off without blocking.
func (c *CaptureDevice) onData(input []byte) {
	samples, err := DecodePCM16(input)
	if err != nil {
		return
	}
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.cfg.FrameLength {
		frame := make([]float32, c.cfg.FrameLength)
		copy(frame, c.pending[:c.cfg.FrameLength])
		c.pending = c.pending[c.cfg.FrameLength:]
		select {
		case c.frames <- frame:
		default:
			c.dropped.Add(1)
		}
	}
}

// Close stops the device and closes Frames. Idempotent.
func (c *CaptureDevice) Close() error {
	c.closeOnce.Do(func() {
		c.device.Uninit()
		if err := c.mctx.Uninit(); err != nil {
			slog.Warn("audio: capture context uninit", "err", err)
		}
		c.mctx.Free()
		close(c.frames)
	})
	return nil
}
