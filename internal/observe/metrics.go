// Package observe holds the metrics, tracing and request logging shared by
// the dialcoach subsystems.
//
// Instruments are created on an OpenTelemetry meter; [Setup] bridges them to
// Prometheus so the HTTP surface can serve /metrics. Tests build their own
// [Metrics] with [NewMetrics] and a manual reader instead of touching
// [DefaultMetrics].
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dialcoach metrics.
const meterName = "github.com/MrWong99/dialcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// SessionDuration tracks the length of finished rehearsal sessions.
	SessionDuration metric.Float64Histogram

	// --- Conversation counters ---

	// TranscriptAppends counts reconciler decisions. Use with attributes:
	//   attribute.String("role", ...), attribute.String("verdict", ...)
	TranscriptAppends metric.Int64Counter

	// TurnTransitions counts turn state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TurnTransitions metric.Int64Counter

	// PlaybackItems counts finished playback items. Use with attribute:
	//   attribute.String("status", ...)
	PlaybackItems metric.Int64Counter

	// SilencePrompts counts silence escalations. Use with attributes:
	//   attribute.String("level", ...), attribute.Bool("terminal", ...)
	SilencePrompts metric.Int64Counter

	// ScriptAdvances counts script index moves. Use with attribute:
	//   attribute.String("mode", ...)
	ScriptAdvances metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live rehearsal sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers rehearsal calls from a few seconds to half an hour.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("dialcoach.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("dialcoach.session.duration",
		metric.WithDescription("Length of finished rehearsal sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Conversation counters.
	if met.TranscriptAppends, err = m.Int64Counter("dialcoach.transcript.appends",
		metric.WithDescription("Transcript reconciler decisions by role and verdict."),
	); err != nil {
		return nil, err
	}
	if met.TurnTransitions, err = m.Int64Counter("dialcoach.turn.transitions",
		metric.WithDescription("Turn state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("dialcoach.playback.items",
		metric.WithDescription("Finished playback items by status."),
	); err != nil {
		return nil, err
	}
	if met.SilencePrompts, err = m.Int64Counter("dialcoach.silence.prompts",
		metric.WithDescription("Silence escalation prompts by level."),
	); err != nil {
		return nil, err
	}
	if met.ScriptAdvances, err = m.Int64Counter("dialcoach.script.advances",
		metric.WithDescription("Script index advances by mode."),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("dialcoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dialcoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dialcoach.active_sessions",
		metric.WithDescription("Number of live rehearsal sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialcoach.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTranscriptAppend records one reconciler decision.
func (m *Metrics) RecordTranscriptAppend(ctx context.Context, role, verdict string) {
	m.TranscriptAppends.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("verdict", verdict),
		),
	)
}

// RecordTurnTransition records one turn state change.
func (m *Metrics) RecordTurnTransition(ctx context.Context, from, to string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPlayback records one finished playback item.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSilencePrompt records one silence escalation.
func (m *Metrics) RecordSilencePrompt(ctx context.Context, level int, terminal bool) {
	m.SilencePrompts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("level", strconv.Itoa(level)),
			attribute.Bool("terminal", terminal),
		),
	)
}

// RecordScriptAdvance records one script index move.
func (m *Metrics) RecordScriptAdvance(ctx context.Context, mode string) {
	m.ScriptAdvances.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
