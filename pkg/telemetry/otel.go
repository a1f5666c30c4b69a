package telemetry

import (
	"context"
	"errors"
	"fmt"

	"grid_trader/internal/config"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Resource attribute keys attached to every exported grid metric
const (
	AttrPair     = attribute.Key("grid.pair")
	AttrExchange = attribute.Key("grid.exchange")
)

// Telemetry holds the providers that Setup installed. A nil provider means the signal is off.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

type setupOptions struct {
	attrs      []attribute.KeyValue
	registerer promclient.Registerer
}

// Option customises Setup
type Option func(*setupOptions)

// WithAttributes adds resource attributes, e.g. the traded pair and exchange
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *setupOptions) { o.attrs = append(o.attrs, attrs...) }
}

// WithRegisterer exports metrics into reg instead of the default Prometheus registry
func WithRegisterer(reg promclient.Registerer) Option {
	return func(o *setupOptions) { o.registerer = reg }
}

// Setup installs the global providers selected by cfg.
// Metrics go to the Prometheus registry served by promhttp. Traces go to stdout when
// cfg.Traces is "stdout" and to a no-op provider otherwise. The log provider is only
// installed when cfg.LogBridge is set, so zap's otelzap core stays silent by default.
func Setup(cfg config.TelemetryConfig, opts ...Option) (*Telemetry, error) {
	o := setupOptions{registerer: promclient.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "grid_trader"
	}
	attrs := append([]attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}, o.attrs...)
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Telemetry{}

	if cfg.EnableMetrics {
		exporter, err := prometheus.New(
			prometheus.WithRegisterer(o.registerer),
			prometheus.WithResourceAsConstantLabels(gridLabels),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(t.mp)

		if err := GetGlobalMetrics().InitMetrics(t.mp.Meter(serviceName)); err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
	}

	switch cfg.Traces {
	case config.TracesStdout:
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)
	default:
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if cfg.LogBridge {
		exporter, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}
		t.lp = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(t.lp)
	}

	return t, nil
}

func gridLabels(kv attribute.KeyValue) bool {
	return kv.Key == AttrPair || kv.Key == AttrExchange
}

// TracesEnabled reports whether spans are exported
func (t *Telemetry) TracesEnabled() bool {
	return t.tp != nil
}

// Shutdown flushes and stops the installed providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown failed: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown failed: %w", err))
		}
	}
	if t.lp != nil {
		if err := t.lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetMeter returns a meter for the given name
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// GetTracer returns a tracer for the given name
func GetTracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
