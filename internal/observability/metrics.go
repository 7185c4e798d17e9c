// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Recorder records batch instruments against the global MeterProvider.
// Instruments are resolved lazily, so a Recorder created before InitMetrics
// still reports once a provider is installed.
type Recorder struct {
	items    metric.Int64Counter
	bytes    metric.Int64Counter
	crop     metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewRecorder creates the isimip instruments.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("isimip")

	items, err := meter.Int64Counter("isimip_items",
		metric.WithDescription("Work items finished, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create items counter: %w", err)
	}
	bytes, err := meter.Int64Counter("isimip_download_bytes",
		metric.WithDescription("Bytes downloaded from the remote archive"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create bytes counter: %w", err)
	}
	crop, err := meter.Float64Histogram("isimip_crop_duration",
		metric.WithDescription("Wall time of crop engine invocations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create crop histogram: %w", err)
	}
	inFlight, err := meter.Int64UpDownCounter("isimip_items_in_flight",
		metric.WithDescription("Work items currently being processed"))
	if err != nil {
		return nil, fmt.Errorf("create in-flight counter: %w", err)
	}

	return &Recorder{items: items, bytes: bytes, crop: crop, inFlight: inFlight}, nil
}

// ItemStarted marks one item as in flight.
func (r *Recorder) ItemStarted(ctx context.Context) {
	if r == nil {
		return
	}
	r.inFlight.Add(ctx, 1)
}

// ItemFinished records an item outcome and removes it from the in-flight gauge.
func (r *Recorder) ItemFinished(ctx context.Context, model, scenario, status string) {
	if r == nil {
		return
	}
	r.inFlight.Add(ctx, -1)
	r.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("scenario", scenario),
		attribute.String("status", status),
	))
}

// BytesDownloaded adds n to the download counter.
func (r *Recorder) BytesDownloaded(ctx context.Context, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytes.Add(ctx, n)
}

// CropObserved records one crop invocation.
func (r *Recorder) CropObserved(ctx context.Context, d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.crop.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("success", ok)))
}
