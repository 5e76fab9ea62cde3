// Package observe provides application-wide observability primitives for
// Voiceloop: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voiceloop metrics.
const meterName = "github.com/solenlabs/voiceloop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StopLatency tracks the time from an interruption phrase being detected
	// to local playback silence.
	StopLatency metric.Float64Histogram

	// SessionDuration tracks how long voice sessions stay connected.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts synthesized audio frames by outcome. Use with
	// attribute: attribute.String("outcome", "queued"|"dropped"|"invalid")
	AudioChunks metric.Int64Counter

	// BargeIns counts user interruptions that cut off model playback.
	BargeIns metric.Int64Counter

	// RevealedWords counts transcript words published to the display.
	RevealedWords metric.Int64Counter

	// PlaybackUnderruns counts render quanta that drained an exhausted queue.
	PlaybackUnderruns metric.Int64Counter

	// WSMessages counts websocket traffic. Use with attributes:
	//   attribute.String("direction", "in"|"out"), attribute.String("kind", ...)
	WSMessages metric.Int64Counter

	// CaptureFrames counts microphone frames by outcome. Use with
	// attribute: attribute.String("outcome", "sent"|"dropped")
	CaptureFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stopLatencyBuckets defines histogram bucket boundaries (in seconds) sized
// for the sub-quantum silence target of an interrupt.
var stopLatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 1,
}

// sessionDurationBuckets covers session lifetimes from seconds to an hour.
var sessionDurationBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StopLatency, err = m.Float64Histogram("voiceloop.stop.latency",
		metric.WithDescription("Time from interruption detection to local playback silence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stopLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voiceloop.session.duration",
		metric.WithDescription("Lifetime of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionDurationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("voiceloop.audio.chunks",
		metric.WithDescription("Synthesized audio frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voiceloop.bargein.triggers",
		metric.WithDescription("User interruptions that cut off model playback."),
	); err != nil {
		return nil, err
	}
	if met.RevealedWords, err = m.Int64Counter("voiceloop.reveal.words",
		metric.WithDescription("Transcript words published to the display."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("voiceloop.playback.underruns",
		metric.WithDescription("Render quanta that drained an exhausted playback queue."),
	); err != nil {
		return nil, err
	}
	if met.WSMessages, err = m.Int64Counter("voiceloop.ws.messages",
		metric.WithDescription("Websocket messages by direction and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("voiceloop.capture.frames",
		metric.WithDescription("Microphone frames by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceloop.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAudioChunk records one synthesized audio frame with its outcome.
func (m *Metrics) RecordAudioChunk(ctx context.Context, outcome string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordBargeIn records one interruption together with the time it took to
// silence local playback.
func (m *Metrics) RecordBargeIn(ctx context.Context, silenced time.Duration) {
	m.BargeIns.Add(ctx, 1)
	m.StopLatency.Record(ctx, silenced.Seconds())
}

// RecordWSMessage records one websocket message by direction and kind.
func (m *Metrics) RecordWSMessage(ctx context.Context, direction, kind string) {
	m.WSMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("kind", kind),
		),
	)
}

// RecordCaptureFrame records one microphone frame with its outcome.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, outcome string) {
	m.CaptureFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
