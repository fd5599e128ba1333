// Package server exposes the billing REST surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	"github.com/nextgenfiber/fieldbill/internal/config"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	"github.com/nextgenfiber/fieldbill/internal/observability/logger"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	"github.com/nextgenfiber/fieldbill/internal/observability/tracing"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	reportsdomain "github.com/nextgenfiber/fieldbill/internal/reports/domain"
	validationdomain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

// Server routes HTTP requests to the domain services.
type Server struct {
	log          *zap.Logger
	db           *gorm.DB
	lineSvc      linedomain.Service
	batchSvc     batchdomain.Service
	rateCardSvc  ratecarddomain.Service
	validatorSvc validationdomain.Service
	auditSvc     auditdomain.Service
	reportsSvc   reportsdomain.Service
}

// ServerParam collects dependencies from the fx graph.
type ServerParam struct {
	fx.In

	Log       *zap.Logger
	DB        *gorm.DB
	Lines     linedomain.Service
	Batches   batchdomain.Service
	RateCards ratecarddomain.Service
	Validator validationdomain.Service
	Audit     auditdomain.Service
	Reports   reportsdomain.Service
}

// NewServer builds the handler set.
func NewServer(p ServerParam) *Server {
	return &Server{
		log:          p.Log.Named("server"),
		db:           p.DB,
		lineSvc:      p.Lines,
		batchSvc:     p.Batches,
		rateCardSvc:  p.RateCards,
		validatorSvc: p.Validator,
		auditSvc:     p.Audit,
		reportsSvc:   p.Reports,
	}
}

// NewEngine assembles the gin engine with middleware and routes.
func NewEngine(cfg config.Config, s *Server, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	if cfg.Tracing.Enabled {
		engine.Use(tracing.GinMiddleware(cfg.Tracing.ServiceName))
	}
	engine.Use(metrics.GinMiddleware(httpMetrics))
	engine.Use(ActorMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		"X-Request-Id", actorIDHeader, actorRoleHeader, actorTypeHeader)
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.RegisterRoutes(engine)
	return engine
}

// RegisterRoutes attaches the /billing namespace.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	billing := engine.Group("/billing")

	billing.GET("/healthz", s.Healthz)

	billing.POST("/production-lines", s.IngestProductionLine)
	billing.GET("/production-lines", s.ListProductionLines)
	billing.GET("/production-lines/:id", s.GetProductionLine)
	billing.PATCH("/production-lines/:id", s.PatchProductionLine)
	billing.POST("/production-lines/:id/reject", s.RejectProductionLine)

	billing.POST("/invoice-batches", s.CreateInvoiceBatch)
	billing.GET("/invoice-batches", s.ListInvoiceBatches)
	billing.GET("/invoice-batches/:id", s.GetInvoiceBatch)
	billing.PATCH("/invoice-batches/:id", s.UpdateInvoiceBatch)
	billing.POST("/invoice-batches/:id/assess-readiness", s.AssessInvoiceBatchReadiness)
	billing.POST("/invoice-batches/:id/submit", s.SubmitInvoiceBatch)
	billing.POST("/invoice-batches/:id/record-payment", s.RecordInvoiceBatchPayment)
	billing.POST("/invoice-batches/:id/add-deduction", s.AddInvoiceBatchDeduction)
	billing.POST("/invoice-batches/:id/dispute", s.DisputeInvoiceBatch)

	billing.POST("/rate-cards", s.CreateRateCard)
	billing.GET("/rate-cards", s.ListRateCards)
	billing.GET("/rate-cards/:id", s.GetRateCard)
	billing.POST("/rate-cards/:id/versions", s.CreateRateCardVersion)
	billing.POST("/rate-cards/:id/deactivate", s.DeactivateRateCard)

	billing.POST("/validation/run", s.RunValidation)

	billing.GET("/audit-events", s.ListAuditEvents)
	billing.POST("/audit-events", s.CreateAuditEvent)

	billing.GET("/reports/aging", s.AgingReport)
	billing.GET("/reports/rejections", s.RejectionsReport)
}

// Healthz reports process and database liveness.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Module wires the HTTP surface.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(RunHTTP),
)
