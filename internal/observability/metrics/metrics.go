package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes workflow instruments.
type Metrics struct {
	codeRequests      metric.Int64Counter
	codesIssued       metric.Int64Counter
	registrations     metric.Int64Counter
	commissionAmount  metric.Int64Counter
	commissionSkipped metric.Int64Counter
	emailFailures     metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "vervex"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.codeRequests, err = meter.Int64Counter("vervex_code_requests_total"); err != nil {
		return nil, err
	}
	if m.codesIssued, err = meter.Int64Counter("vervex_codes_issued_total"); err != nil {
		return nil, err
	}
	if m.registrations, err = meter.Int64Counter("vervex_registrations_total"); err != nil {
		return nil, err
	}
	if m.commissionAmount, err = meter.Int64Counter("vervex_commission_amount_total"); err != nil {
		return nil, err
	}
	if m.commissionSkipped, err = meter.Int64Counter("vervex_commission_skipped_total"); err != nil {
		return nil, err
	}
	if m.emailFailures, err = meter.Int64Counter("vervex_email_failures_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("vervex_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordCodeRequest(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.codeRequests.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("role", role))...))
}

func (m *Metrics) RecordCodeIssued(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.codesIssued.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("role", role))...))
}

func (m *Metrics) RecordRegistration(ctx context.Context, source, role string) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("role", role),
	)...))
}

// RecordCommission adds a settled amount; zero amounts count as skipped.
func (m *Metrics) RecordCommission(ctx context.Context, role string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("role", role))...)
	if amount <= 0 {
		m.commissionSkipped.Add(ctx, 1, attrs)
		return
	}
	m.commissionAmount.Add(ctx, amount, attrs)
}

func (m *Metrics) RecordEmailFailure(ctx context.Context, template string) {
	if m == nil {
		return
	}
	m.emailFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("template", template))...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"role":        {},
	"source":      {},
	"template":    {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
