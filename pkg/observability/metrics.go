// Package observability provides OpenTelemetry metrics for the KeyMaster
// hot path, following the RED pattern (rate, errors, duration).
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/Mindburn-Labs/keymaster"

// Metrics holds the validate-path instruments. A nil *Metrics is a valid
// no-op receiver so callers never need to guard recording sites.
type Metrics struct {
	validations metric.Int64Counter
	denials     metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetrics creates the instruments on the globally registered meter
// provider. Without SDK setup the global provider is a no-op, so this is
// safe to call unconditionally.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	validations, err := meter.Int64Counter("keymaster.validate.requests",
		metric.WithDescription("Validation attempts by terminal result"))
	if err != nil {
		return nil, fmt.Errorf("creating validate counter: %w", err)
	}

	denials, err := meter.Int64Counter("keymaster.validate.denials",
		metric.WithDescription("Denied validations by reason"))
	if err != nil {
		return nil, fmt.Errorf("creating denial counter: %w", err)
	}

	duration, err := meter.Float64Histogram("keymaster.validate.duration",
		metric.WithDescription("End-to-end validate latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Metrics{validations: validations, denials: denials, duration: duration}, nil
}

// RecordValidate records one terminated validate attempt.
func (m *Metrics) RecordValidate(ctx context.Context, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.validations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordDenial records the reason a validate was rejected.
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Setup installs an SDK meter provider exporting over OTLP/gRPC and
// returns its shutdown hook. Called from main only when an endpoint is
// configured; otherwise the no-op global stays in place.
func Setup(ctx context.Context, endpoint, serviceVersion string) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("keymaster"),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
