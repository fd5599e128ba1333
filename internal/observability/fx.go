// Package observability assembles tracing, metrics, and logging providers.
package observability

import (
	"github.com/nextgenfiber/fieldbill/internal/config"
	"github.com/nextgenfiber/fieldbill/internal/observability/logger"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	"github.com/nextgenfiber/fieldbill/internal/observability/tracing"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires tracing and HTTP metrics from the service configuration.
var Module = fx.Module("observability",
	fx.Provide(
		fx.Annotate(
			func(cfg config.Config) bool { return cfg.IsProduction() },
			fx.ResultTags(`name:"production"`),
		),
	),
	logger.Module,
	fx.Provide(newTracerProvider),
	fx.Provide(newMeterProvider),
	fx.Provide(newHTTPMetrics),
	fx.Provide(newBillingMetrics),
)

func newTracerProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	return tracing.NewProvider(lc, tracing.Config{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      cfg.Tracing.ServiceName,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Tracing.ExporterEndpoint,
		ExporterProtocol: cfg.Tracing.ExporterProtocol,
		SamplingRatio:    cfg.Tracing.SamplingRatio,
	}, log)
}

func newMeterProvider() metric.MeterProvider {
	return sdkmetric.NewMeterProvider()
}

func newHTTPMetrics(cfg config.Config, provider metric.MeterProvider) (*metrics.HTTPMetrics, error) {
	return metrics.NewHTTPMetrics(metrics.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
	}, provider)
}

func newBillingMetrics(cfg config.Config) *metrics.BillingMetrics {
	return metrics.BillingWithConfig(metrics.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
	})
}
