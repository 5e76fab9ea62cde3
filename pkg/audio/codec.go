// Package audio provides the sample-level building blocks of the voiceloop
// playback and capture paths: PCM16 codec functions, the playback ring
// buffer drained by the real-time render callback, and the malgo-backed
// capture and render devices.
//
// All PCM byte data in this package is 16-bit signed little-endian, mono.
// Normalized samples are float32 in [-1, 1].
package audio

import "errors"

// ErrOddLength is returned by DecodePCM16 when the input byte count is not a
// multiple of the 2-byte sample size.
var ErrOddLength = errors.New("audio: odd PCM16 byte count")

// pcm16Scale is the normalization divisor between int16 and float samples.
const pcm16Scale = 32767

// DecodePCM16 converts little-endian int16 PCM bytes into normalized float32
// samples. An odd byte count is rejected with [ErrOddLength]; the data is
// malformed and decoding half a sample would desynchronise the stream.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		s := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(s) / pcm16Scale
	}
	return out, nil
}

// EncodePCM16 converts normalized float32 samples into little-endian int16
// PCM bytes. Samples outside [-1, 1] are clamped to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	EncodePCM16Into(out, samples)
	return out
}

// EncodePCM16Into encodes samples into dst, which must hold at least
// 2*len(samples) bytes. It returns the number of bytes written. Used by the
// render callback to fill device buffers without allocating.
func EncodePCM16Into(dst []byte, samples []float32) int {
	for i, f := range samples {
		v := int32(roundSample(f * pcm16Scale))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i*2] = byte(v)
		dst[i*2+1] = byte(v >> 8)
	}
	return len(samples) * 2
}

// EncodeFrame encodes one captured frame of normalized samples into a PCM16
// wire frame. Empty input yields nil: a zero-length capture callback is a
// no-op, not an error.
func EncodeFrame(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	return EncodePCM16(samples)
}

// roundSample rounds half away from zero, matching the inverse of the
// normalization used by DecodePCM16.
func roundSample(f float32) float32 {
	if f >= 0 {
		return f + 0.5
	}
	return f - 0.5
}
