// Package telemetry exports run metrics to an OpenTelemetry collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

const (
	serviceName    = "sea-bridge"
	serviceVersion = "1.0.0"
)

// Config holds OTLP exporter settings.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
}

// Exporter records run metrics through an OTLP meter provider.
type Exporter struct {
	provider     *sdkmetric.MeterProvider
	runsTotal    metric.Int64Counter
	writesTotal  metric.Int64Counter
	scoreHist    metric.Float64Histogram
	durationHist metric.Float64Histogram
}

var _ ports.Metrics = (*Exporter)(nil)

// NewExporter creates an exporter that pushes to the configured collector.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	e, err := newExporter(sdkmetric.NewPeriodicReader(exp), res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(e.provider)
	return e, nil
}

func newExporter(reader sdkmetric.Reader, res *resource.Resource) (*Exporter, error) {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	meter := provider.Meter(serviceName)

	runsTotal, err := meter.Int64Counter(
		"sea_bridge_runs_total",
		metric.WithDescription("Finished session runs by phase"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	writesTotal, err := meter.Int64Counter(
		"sea_bridge_record_writes_total",
		metric.WithDescription("Clinical record write outcomes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating writes counter: %w", err)
	}

	scoreHist, err := meter.Float64Histogram(
		"sea_bridge_sea_index",
		metric.WithDescription("SEA index values returned by the analysis service"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating score histogram: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"sea_bridge_run_duration_seconds",
		metric.WithDescription("Run duration from start to terminal phase"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Exporter{
		provider:     provider,
		runsTotal:    runsTotal,
		writesTotal:  writesTotal,
		scoreHist:    scoreHist,
		durationHist: durationHist,
	}, nil
}

// RecordRun implements ports.Metrics.
func (e *Exporter) RecordRun(ctx context.Context, s domain.SessionSummary) {
	attrs := []attribute.KeyValue{
		attribute.String("phase", string(s.Phase)),
	}
	if s.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", s.ErrorKind))
	}
	opt := metric.WithAttributes(attrs...)

	e.runsTotal.Add(ctx, 1, opt)
	e.durationHist.Record(ctx, s.Duration().Seconds(), opt)

	if s.Score != nil {
		e.scoreHist.Record(ctx, *s.Score)
	}
	if s.WriteStatus != "" {
		e.writesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(s.WriteStatus))))
	}
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
