package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
)

// OtelConfig names the service; the exporter knobs come from the
// environment like every other subsystem's config.
type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

// exporterConfig is the env-driven half: whether tracing is on at all,
// where spans go, and how aggressively they are sampled.
type exporterConfig struct {
	enabled     bool
	endpoint    string
	insecure    bool
	headers     map[string]string
	sampleRatio float64
}

func exporterConfigFromEnv() exporterConfig {
	ratio := envutil.Float("OTEL_SAMPLER_RATIO", 0.1)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return exporterConfig{
		enabled:     envutil.Bool("OTEL_ENABLED", false),
		endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		headers:     parseHeaderList(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		sampleRatio: ratio,
	}
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel installs the global tracer provider once. Tracing stays off
// unless OTEL_ENABLED is set; the returned shutdown func is nil in that
// case.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		env := exporterConfigFromEnv()
		if !env.enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "zyra-engine"
		}
		res, err := resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
				semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
				attribute.String("service.component", serviceName),
			),
		)
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(env.sampleRatio))),
			sdktrace.WithResource(res),
		}
		exporter, expErr := newSpanExporter(ctx, log, env)
		if expErr != nil && log != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr)
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized", "service", serviceName, "endpoint", env.endpoint)
		}
	})
	return otelShutdown
}

// newSpanExporter picks OTLP over HTTP when an endpoint is configured and
// falls back to pretty-printed stdout spans for local runs.
func newSpanExporter(ctx context.Context, log *logger.Logger, env exporterConfig) (sdktrace.SpanExporter, error) {
	if env.endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(env.endpoint)}
		if env.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(env.headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(env.headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	if log != nil {
		log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

// parseHeaderList decodes the comma-separated key=value form the OTLP
// spec uses for header env vars.
func parseHeaderList(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	headers := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key == "" || val == "" {
			continue
		}
		headers[key] = val
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
