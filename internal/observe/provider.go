package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "voxstitch".
	ServiceName string

	// ServiceVersion is reported as service.version. Default: the main
	// module version from the build info.
	ServiceVersion string

	// Registry receives the exporter's collectors together with the Go
	// runtime and process collectors. When nil, the exporter registers with
	// [prometheus.DefaultRegisterer], which already carries both.
	Registry *prometheus.Registry

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but dropped.
	TraceExporter sdktrace.SpanExporter
}

func (c *ProviderConfig) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "voxstitch"
	}
	if c.ServiceVersion == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			c.ServiceVersion = bi.Main.Version
		}
	}
}

// InitProvider installs global meter and tracer providers. Metrics are read
// by a Prometheus exporter and served by [MetricsHandler]; spans go to
// cfg.TraceExporter.
//
// The returned shutdown flushes both providers. Register it with the
// application so it runs after the ops server has stopped.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	cfg.setDefaults()

	// Schemaless, so the merge adopts the schema of the SDK's default
	// resource whatever semconv version this package pins.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registry != nil {
		if err := registerRuntimeCollectors(cfg.Registry); err != nil {
			return nil, err
		}
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registry))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first: the batcher may still record span metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// registerRuntimeCollectors adds the Go runtime and process collectors to
// reg. Collectors registered earlier are kept.
func registerRuntimeCollectors(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("observe: register collector: %w", err)
			}
		}
	}
	return nil
}

// MetricsHandler serves the Prometheus exposition of reg, or of the default
// gatherer when reg is nil.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
