package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/orgsync"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Fan-out metrics
	FanoutsTotal           metric.Int64Counter
	FanoutFailuresTotal    metric.Int64Counter
	FanoutTimeoutsTotal    metric.Int64Counter
	FanoutDuration         metric.Float64Histogram
	ConnectorFailuresTotal metric.Int64Counter

	// Async job metrics
	JobsSubmittedTotal metric.Int64Counter
	JobsDetachedTotal  metric.Int64Counter
	JobsInFlight       metric.Int64UpDownCounter

	// Ledger metrics
	LedgerResetsTotal metric.Int64Counter

	// Control-plane metrics
	ControlPlanePagesTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments bind to the meter provider registered at first use, so
// InitTelemetry must run before the first call to export anything.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Fan-out metrics
	m.FanoutsTotal, _ = meter.Int64Counter(
		"orgsync.fanout.total",
		metric.WithDescription("Total number of provisioning fan-outs"),
		metric.WithUnit("{fanout}"),
	)

	m.FanoutFailuresTotal, _ = meter.Int64Counter(
		"orgsync.fanout.failures.total",
		metric.WithDescription("Total number of fan-outs that did not reach every connector"),
		metric.WithUnit("{fanout}"),
	)

	m.FanoutTimeoutsTotal, _ = meter.Int64Counter(
		"orgsync.fanout.timeouts.total",
		metric.WithDescription("Total number of fan-outs that exceeded their deadline"),
		metric.WithUnit("{fanout}"),
	)

	m.FanoutDuration, _ = meter.Float64Histogram(
		"orgsync.fanout.duration",
		metric.WithDescription("Duration of provisioning fan-outs"),
		metric.WithUnit("ms"),
	)

	m.ConnectorFailuresTotal, _ = meter.Int64Counter(
		"orgsync.connector.failures.total",
		metric.WithDescription("Total number of connector calls returning an error"),
		metric.WithUnit("{error}"),
	)

	// Async job metrics
	m.JobsSubmittedTotal, _ = meter.Int64Counter(
		"orgsync.jobs.submitted.total",
		metric.WithDescription("Total number of jobs submitted to the registry"),
		metric.WithUnit("{job}"),
	)

	m.JobsDetachedTotal, _ = meter.Int64Counter(
		"orgsync.jobs.detached.total",
		metric.WithDescription("Total number of jobs still running after the grace period"),
		metric.WithUnit("{job}"),
	)

	m.JobsInFlight, _ = meter.Int64UpDownCounter(
		"orgsync.jobs.in_flight",
		metric.WithDescription("Number of jobs currently running"),
		metric.WithUnit("{job}"),
	)

	// Ledger metrics
	m.LedgerResetsTotal, _ = meter.Int64Counter(
		"orgsync.ledger.resets.total",
		metric.WithDescription("Total number of ledger resets caused by a version change"),
		metric.WithUnit("{reset}"),
	)

	// Control-plane metrics
	m.ControlPlanePagesTotal, _ = meter.Int64Counter(
		"orgsync.controlplane.pages.total",
		metric.WithDescription("Total number of control-plane listing pages fetched"),
		metric.WithUnit("{page}"),
	)

	return m
}
