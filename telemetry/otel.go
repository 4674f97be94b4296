package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/agentuity/go-recommend/logger"
	cstr "github.com/agentuity/go-recommend/string"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type ShutdownFunc func()

// New exports spans and logs over OTLP/HTTP to serverURL and returns log
// stacked with a logger that also ships every entry to the collector. It
// installs the global tracer provider. With an empty serverURL it returns
// log unchanged and a ShutdownFunc that does nothing.
func New(ctx context.Context, serverURL string, authToken cstr.MaskedString, serviceName string, log logger.Logger) (logger.Logger, ShutdownFunc, error) {
	if serverURL == "" {
		return log, func() {}, nil
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error parsing telemetry endpoint")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, nil, errors.Newf("telemetry endpoint %q needs a scheme and host", serverURL)
	}
	u.Path = "/v1/traces"
	traceURL := u.String()
	u.Path = "/v1/logs"
	logURL := u.String()

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),      // Discover and provide attributes from OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME environment variables.
		resource.WithTelemetrySDK(), // Discover and provide information about the OpenTelemetry SDK used.
		resource.WithProcess(),      // Discover and provide process information.
		resource.WithHost(),         // Discover and provide host information.
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		log.Warn("telemetry resource is incomplete: %s", err)
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if !authToken.IsEmpty() {
		headers["Authorization"] = "Bearer " + authToken.Text()
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(time.Second * 10),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating trace exporter")
	}

	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(time.Second * 10),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	if u.Scheme == "http" {
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}
	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating log exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	stacked := log.Stack(logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelTrace))
	log.Debug("exporting traces and logs to %s", u.Host)

	return stacked, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("error flushing traces: %s", err)
		}
		if err := logProvider.Shutdown(ctx); err != nil {
			log.Warn("error flushing logs: %s", err)
		}
	}, nil
}
