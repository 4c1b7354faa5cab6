// Package observability exports genkit traces over OTLP so resolver
// calls can be inspected in an external APM backend. Export is off
// unless a collector endpoint is configured.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tasktalk/tasktalk/internal/log"
)

// Config for the OTLP trace exporter.
type Config struct {
	// Endpoint is the collector's OTLP HTTP endpoint (host:port).
	// Empty disables trace export entirely.
	Endpoint string
	// ServiceName tags exported spans; shown as the service in the APM UI.
	ServiceName string
	// Environment tags spans with deployment.environment.
	Environment string
}

// Setup registers an OTLP HTTP exporter with genkit's TracerProvider.
// Spans are batched and sent to the configured local collector, which
// handles authentication and forwarding.
//
// Returns a shutdown function that flushes pending spans. With an empty
// Endpoint the returned shutdown is a no-op and nothing is exported.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = log.NewNop()
	}
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop, nil
	}

	// Genkit's TracerProvider reads the service identity from the
	// standard OTEL environment variables.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
