package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/rootsigner"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Signing metrics
	SignRequestsTotal       metric.Int64Counter
	SignErrorsTotal         metric.Int64Counter
	SignDuration            metric.Float64Histogram
	SelfVerifyFailuresTotal metric.Int64Counter
	CanonicalBytes          metric.Int64Histogram

	// Concurrency metrics
	SignInFlight metric.Int64UpDownCounter

	// Verification metrics
	VerifyRequestsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates and registers all metric instruments with the given provider
func NewMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{}

	// Signing metrics
	m.SignRequestsTotal, _ = meter.Int64Counter(
		"rootsigner.sign.requests.total",
		metric.WithDescription("Total number of sign requests"),
		metric.WithUnit("{request}"),
	)

	m.SignErrorsTotal, _ = meter.Int64Counter(
		"rootsigner.sign.errors.total",
		metric.WithDescription("Total number of sign requests that failed, by error kind"),
		metric.WithUnit("{error}"),
	)

	m.SignDuration, _ = meter.Float64Histogram(
		"rootsigner.sign.duration",
		metric.WithDescription("Duration of canonicalize, sign and self-verify"),
		metric.WithUnit("ms"),
	)

	m.SelfVerifyFailuresTotal, _ = meter.Int64Counter(
		"rootsigner.sign.self_verify_failures.total",
		metric.WithDescription("Total number of signatures that failed self-verification"),
		metric.WithUnit("{failure}"),
	)

	m.CanonicalBytes, _ = meter.Int64Histogram(
		"rootsigner.canonical.size",
		metric.WithDescription("Size of canonical documents"),
		metric.WithUnit("By"),
	)

	// Concurrency metrics
	m.SignInFlight, _ = meter.Int64UpDownCounter(
		"rootsigner.sign.in_flight",
		metric.WithDescription("Number of signing operations holding a concurrency slot"),
		metric.WithUnit("{operation}"),
	)

	// Verification metrics
	m.VerifyRequestsTotal, _ = meter.Int64Counter(
		"rootsigner.verify.requests.total",
		metric.WithDescription("Total number of verify requests, by result"),
		metric.WithUnit("{request}"),
	)

	return m
}
