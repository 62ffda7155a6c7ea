package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/observability/notify/pagerduty"
	"github.com/laviprog/speech-api/internal/observability/notify/slack"
	"github.com/laviprog/speech-api/internal/observability/statsd"
	"github.com/laviprog/speech-api/internal/service/failurenotifier"
)

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled; every emitter tolerates that.
	MetricsSink *statsd.Client
	// ShutdownTracing flushes pending spans. Never nil.
	ShutdownTracing func(context.Context) error
	// FailureNotifier has no sinks when notifications are disabled.
	FailureNotifier *failurenotifier.Service
}

// metrics returns the sink as an interface, keeping a nil client a nil interface.
//
//nolint:ireturn // emitters take the interface.
func (o ObservabilityContainer) metrics() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// Close flushes traces and closes the metrics socket.
func (o ObservabilityContainer) Close(ctx context.Context) error {
	var firstErr error
	if o.ShutdownTracing != nil {
		firstErr = o.ShutdownTracing(ctx)
	}
	if o.MetricsSink != nil {
		if err := o.MetricsSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildObservability configures the statsd sink, the OTLP tracer provider and
// failure notifications.
// Failures are logged and the affected signal is disabled.
func BuildObservability(ctx context.Context, logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	if logger == nil {
		logger = slog.Default()
	}
	out := ObservabilityContainer{
		ShutdownTracing: func(context.Context) error { return nil },
		FailureNotifier: buildFailureNotifier(logger, cfg.Notifications),
	}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to initialise statsd client", "error", err)
		} else {
			out.MetricsSink = client
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := InitTracer(ctx, cfg.Tracing)
		if err != nil {
			logger.ErrorContext(ctx, "failed to initialise tracer", "error", err)
		} else {
			out.ShutdownTracing = tp.Shutdown
			logger.InfoContext(ctx, "tracer initialized",
				"service", cfg.Tracing.ServiceName,
				"endpoint", cfg.Tracing.Endpoint,
				"sample_ratio", cfg.Tracing.SampleRatio,
			)
		}
	}
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: logger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			TaskURLPrefix: cfg.Slack.TaskURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:        logger,
		Sinks:         sinks,
		IgnoreClasses: cfg.IgnoreClasses,
	})
}

// InitTracer installs a global OTLP/HTTP tracer provider.
func InitTracer(ctx context.Context, cfg config.ObservabilityTracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}
