// Package logger provides the zap logger, request logging middleware, and
// masking helpers for sensitive values.
package logger

import (
	"context"

	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the root *zap.Logger and installs it as the global logger.
var Module = fx.Module("logger",
	fx.Provide(New),
)

// Params carries the environment flag without importing config.
type Params struct {
	fx.In

	Production bool `name:"production" optional:"true"`
}

// New builds the root logger. Production uses the JSON encoder, everything
// else the development console encoder.
func New(p Params) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if p.Production {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// FromContext returns the global logger enriched with trace and request
// correlation fields found in ctx.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	if ctx == nil {
		return log
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		log = log.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		log = log.With(zap.String("request_id", requestID))
	}
	return log
}
