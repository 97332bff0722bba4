package voiceorder

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-order/voiceorder"

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the order pipeline instruments.
type Metrics struct {
	Recognitions          metric.Int64Counter
	RecognitionDuration   metric.Float64Histogram
	TranscriptionDuration metric.Float64Histogram
	Commits               metric.Int64Counter
	Sales                 metric.Float64Counter
	activeSessions        metric.Int64ObservableGauge
}

// NewMetrics registers the instruments on mp (the global provider when nil).
// active reports the number of open draft sessions.
func NewMetrics(mp metric.MeterProvider, active func() int) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.Recognitions, err = meter.Int64Counter("loqa_order.recognitions",
		metric.WithDescription("Transcripts run through a detection strategy, by strategy and status."),
	); err != nil {
		return nil, err
	}
	if m.RecognitionDuration, err = meter.Float64Histogram("loqa_order.recognition.duration",
		metric.WithDescription("Latency of transcript recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.TranscriptionDuration, err = meter.Float64Histogram("loqa_order.transcription.duration",
		metric.WithDescription("Latency of speech-to-text calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.Commits, err = meter.Int64Counter("loqa_order.commits",
		metric.WithDescription("Draft orders committed and persisted."),
	); err != nil {
		return nil, err
	}
	if m.Sales, err = meter.Float64Counter("loqa_order.sales",
		metric.WithDescription("Sum of committed order totals."),
	); err != nil {
		return nil, err
	}
	if active != nil {
		m.activeSessions, err = meter.Int64ObservableGauge("loqa_order.sessions.active",
			metric.WithDescription("Open draft sessions."),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(active()))
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
