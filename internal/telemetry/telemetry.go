// Package telemetry wires OpenTelemetry metrics for the anonymization
// service. When disabled it degrades to no-op instruments so callers never
// need to branch.
package telemetry

import (
	"context"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider holds the meter and the service's instruments. A nil *Provider
// is valid and records nothing.
type Provider struct {
	Enabled bool
	meter   metric.Meter

	requestsCounter    metric.Int64Counter
	requestDuration    metric.Float64Histogram
	analyzeDuration    metric.Float64Histogram
	anonymizeDuration  metric.Float64Histogram
	entitiesFound      metric.Int64Counter
	itemsRewritten     metric.Int64Counter
	batchItemsCounter  metric.Int64Counter
	auditEventsCounter metric.Int64Counter

	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures the OTLP metric exporter and meter provider. When
// disabled it returns no-op instruments.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		p := &Provider{Enabled: false, meter: noop.NewMeterProvider().Meter("")}
		p.initInstruments()
		return p, nil
	}

	log.Printf("telemetry enabled (OpenTelemetry OTLP %s) endpoint=%s; if no collector is listening, periodic 'failed to upload metrics' warnings are expected", strings.ToLower(cfg.Protocol), cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var reader sdkmetric.Reader
	switch strings.ToLower(cfg.Protocol) {
	case "", "grpc":
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "http":
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	default:
		return nil, nil
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		meter:                 mp.Meter("scrubly"),
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Instrument creation is best-effort; telemetry must never fail a request.
	p.requestsCounter, _ = p.meter.Int64Counter("scrubly_requests_total")
	p.requestDuration, _ = p.meter.Float64Histogram("scrubly_request_duration_ms")
	p.analyzeDuration, _ = p.meter.Float64Histogram("scrubly_analyze_duration_ms")
	p.anonymizeDuration, _ = p.meter.Float64Histogram("scrubly_anonymize_duration_ms")
	p.entitiesFound, _ = p.meter.Int64Counter("scrubly_entities_found_total")
	p.itemsRewritten, _ = p.meter.Int64Counter("scrubly_items_rewritten_total")
	p.batchItemsCounter, _ = p.meter.Int64Counter("scrubly_batch_items_total")
	p.auditEventsCounter, _ = p.meter.Int64Counter("scrubly_audit_events_total")
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes the meter provider.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil || p.shutdownMeterProvider == nil {
		return
	}
	_ = p.shutdownMeterProvider(ctx)
}

// RecordRequest counts one HTTP request with its route and status class.
func (p *Provider) RecordRequest(ctx context.Context, route string, status int, dur time.Duration) {
	if p == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("scrubly.route", route),
		attribute.Int("scrubly.status", status),
	)
	p.requestsCounter.Add(ctx, 1, labels)
	p.requestDuration.Record(ctx, float64(dur.Milliseconds()), labels)
}

// RecordAnalyze records one analysis pass.
func (p *Provider) RecordAnalyze(ctx context.Context, dur time.Duration, entities int) {
	if p == nil {
		return
	}
	p.analyzeDuration.Record(ctx, float64(dur.Microseconds())/1000)
	if entities > 0 {
		p.entitiesFound.Add(ctx, int64(entities))
	}
}

// RecordAnonymize records one transform pass.
func (p *Provider) RecordAnonymize(ctx context.Context, dur time.Duration, items int) {
	if p == nil {
		return
	}
	p.anonymizeDuration.Record(ctx, float64(dur.Microseconds())/1000)
	if items > 0 {
		p.itemsRewritten.Add(ctx, int64(items))
	}
}

// RecordBatchItem counts one batch item outcome.
func (p *Provider) RecordBatchItem(ctx context.Context, ok bool) {
	if p == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	p.batchItemsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scrubly.outcome", outcome)))
}

// RecordAuditEvent counts one audit event as enqueued or dropped.
func (p *Provider) RecordAuditEvent(ctx context.Context, enqueued bool) {
	if p == nil {
		return
	}
	outcome := "enqueued"
	if !enqueued {
		outcome = "dropped"
	}
	p.auditEventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scrubly.outcome", outcome)))
}
