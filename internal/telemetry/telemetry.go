package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config describes the signing server to OpenTelemetry.
type Config struct {
	ServiceName string
	Version     string

	// SampleRatio is the fraction of untraced signing requests that start a trace
	SampleRatio float64
}

// InitTelemetry installs global trace and meter providers for the signing server. Spans come from
// the otelhttp handler around the signing API, and the signing instruments in Metrics are
// registered on the meter provider installed here, so it must run before the first call to
// GetMetrics.
//
// Exporters are OTLP over gRPC and honour the standard OTEL_EXPORTER_OTLP_* variables. An
// exporter that cannot be created is logged and skipped; signing never depends on telemetry.
//
// The returned function flushes pending spans and metrics and is called on server shutdown.
func InitTelemetry(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithOSType(),
		resource.WithContainer(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceShutdown, err := initTraceProvider(ctx, res, newSampler(cfg.SampleRatio))
	if err != nil {
		log.Warn().Err(err).Msg("Trace exporter unavailable, signing requests will not be traced")
		traceShutdown = noopShutdown
	}

	metricShutdown, err := initMeterProvider(ctx, res)
	if err != nil {
		log.Warn().Err(err).Msg("Metric exporter unavailable, signing metrics will not be exported")
		metricShutdown = noopShutdown
	}

	// callers that trace their certificate issuance flow continue it through /sign-cert
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("Telemetry enabled for signing server")

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			wrapShutdown("trace", traceShutdown(ctx)),
			wrapShutdown("metric", metricShutdown(ctx)),
		)
	}

	return shutdown, nil
}

func noopShutdown(context.Context) error { return nil }

func wrapShutdown(provider string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s provider shutdown: %w", provider, err)
}

// initTraceProvider exports signing request spans in batches.
func initTraceProvider(ctx context.Context, res *resource.Resource, sampler sdktrace.Sampler) (func(context.Context) error, error) {
	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// newSampler follows the caller's sampling decision and samples requests without a parent span
// at ratio.
func newSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// initMeterProvider exports the signing counters and histograms every 10 seconds.
func initMeterProvider(ctx context.Context, res *resource.Resource) (func(context.Context) error, error) {
	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				metricExporter,
				sdkmetric.WithInterval(10*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
