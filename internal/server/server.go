package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/chargeflow/internal/cdr"
	cdrdomain "github.com/smallbiznis/chargeflow/internal/cdr/domain"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/observability"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/chargeflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/smallbiznis/chargeflow/internal/payment/vault"
	"github.com/smallbiznis/chargeflow/internal/ratelimit"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

// RunHTTP serves the engine on the configured address for the app lifetime.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type revenueModelRegistrar interface {
	RegisterRevenueModel(ctx context.Context, productClass string, percentage decimal.Decimal) (cdrdomain.RevenueModel, error)
}

type cardRegistry interface {
	Save(ctx context.Context, card paymentdomain.StoredCard) (*paymentdomain.StoredCard, error)
	Remove(ctx context.Context, customer string) error
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger

	chargingConfig *config.ChargingConfigHolder

	chargingsvc chargingdomain.Service
	usagesvc    usagedomain.Service
	revenue     revenueModelRegistrar
	cards       cardRegistry

	sdrLimiter *ratelimit.SDRLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger
	ChargingConfig *config.ChargingConfigHolder `optional:"true"`

	ChargingSvc chargingdomain.Service
	UsageSvc    usagedomain.Service
	Emitter     *cdr.Emitter `optional:"true"`
	Cards       *vault.Store `optional:"true"`

	SDRLimiter *ratelimit.SDRLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		log:            p.Log.Named("http.server"),
		chargingConfig: p.ChargingConfig,
		chargingsvc:    p.ChargingSvc,
		usagesvc:       p.UsageSvc,
		sdrLimiter:     p.SDRLimiter,
		obsMetrics:     p.ObsMetrics,
	}
	if p.Emitter != nil {
		s.revenue = p.Emitter
	}
	if p.Cards != nil {
		s.cards = p.Cards
	}
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	purchases := api.Group("/purchases")
	{
		purchases.POST("/:id/charge", s.ResolveCharging)
		purchases.POST("/:id/sdrs", s.SDRRateLimit(), s.IncludeSDR)
	}

	payments := api.Group("/payments")
	{
		payments.GET("/:gateway/return", s.EndCharging)
		payments.GET("/:gateway/cancel", s.CancelCharging)
	}

	customers := api.Group("/customers")
	{
		customers.PUT("/:customer/card", s.SaveCardOnFile)
		customers.DELETE("/:customer/card", s.RemoveCardOnFile)
	}

	api.POST("/revenue-models", s.RegisterRevenueModel)
}

func (s *Server) defaultPaymentMethod() string {
	if s.chargingConfig == nil {
		return config.DefaultChargingConfig().DefaultPaymentMethod
	}
	return s.chargingConfig.Get().DefaultPaymentMethod
}
