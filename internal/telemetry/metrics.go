package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// ReconcileMetrics counts reconciliation outcomes. Outcomes are labeled
// rather than split into separate instruments so dashboards can sum them.
type ReconcileMetrics struct {
	outcomes      metric.Int64Counter
	badSignatures metric.Int64Counter
}

func NewReconcileMetrics() (*ReconcileMetrics, error) {
	meter := otel.Meter("payments/recon")

	outcomes, err := meter.Int64Counter("reconcile.outcomes",
		metric.WithDescription("Reconciliation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	badSignatures, err := meter.Int64Counter("webhook.signature_failures",
		metric.WithDescription("Webhook deliveries rejected for a bad signature"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{outcomes: outcomes, badSignatures: badSignatures}, nil
}

func (m *ReconcileMetrics) RecordOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *ReconcileMetrics) RecordBadSignature(ctx context.Context) {
	if m == nil {
		return
	}
	m.badSignatures.Add(ctx, 1)
}
