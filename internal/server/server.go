package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/booking"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/deposit"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	"github.com/smallbiznis/stayledger/internal/eligibility"
	"github.com/smallbiznis/stayledger/internal/fees"
	"github.com/smallbiznis/stayledger/internal/listing"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
	"github.com/smallbiznis/stayledger/internal/notification"
	"github.com/smallbiznis/stayledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/stayledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stayledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/stayledger/internal/observability/tracing"
	"github.com/smallbiznis/stayledger/internal/payment"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/internal/providers/pdf"
	"github.com/smallbiznis/stayledger/internal/ratelimit"
	"github.com/smallbiznis/stayledger/internal/scheduler"
	"github.com/smallbiznis/stayledger/internal/wallet"
	walletdomain "github.com/smallbiznis/stayledger/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the domain services behind the HTTP API. Infrastructure
// modules (config, observability, db, clock, snowflake) come from the app.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	auth.Module,
	authorization.Module,
	availability.Module,
	eligibility.Module,
	fees.Module,
	listing.Module,
	booking.Module,
	payment.Module,
	wallet.Module,
	deposit.Module,
	notification.Module,
	pdf.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http.listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http.serve_failed", zap.Error(err))
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	verifier   *auth.TokenVerifier
	listingSvc listingdomain.Service
	bookingSvc bookingdomain.Service
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	depositSvc depositdomain.Service
	walletSvc  walletdomain.Service
	limiter    *ratelimit.Limiter
	obsMetrics *obsmetrics.Metrics
	scheduler  *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Verifier   *auth.TokenVerifier
	ListingSvc listingdomain.Service
	BookingSvc bookingdomain.Service
	PaymentSvc paymentdomain.Service
	WebhookSvc paymentdomain.WebhookService
	DepositSvc depositdomain.Service
	WalletSvc  walletdomain.Service
	Limiter    *ratelimit.Limiter   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
	Scheduler  *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		verifier:   p.Verifier,
		listingSvc: p.ListingSvc,
		bookingSvc: p.BookingSvc,
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		depositSvc: p.DepositSvc,
		walletSvc:  p.WalletSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		scheduler:  p.Scheduler,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Listings --------
	api.POST("/listings", s.CreateListing)
	api.GET("/listings/:id", s.GetListing)
	api.PUT("/listings/:id/deposit-policy", s.UpsertDepositPolicy)
	api.PUT("/listings/:id/instant-book", s.UpdateInstantBook)

	// -------- Bookings --------
	api.GET("/bookings", s.ListMyBookings)
	api.POST("/bookings", s.CreateBooking)
	api.GET("/bookings/:id", s.GetBooking)
	api.POST("/bookings/:id/cancel", s.CancelBooking)
	api.POST("/bookings/:id/authorize", s.AuthorizeBooking)
	api.GET("/bookings/:id/transactions", s.ListBookingTransactions)
	api.GET("/bookings/:id/deposit", s.GetBookingDeposit)

	// -------- Deposits --------
	api.GET("/deposits/:id", s.GetDeposit)
	api.POST("/deposits/:id/capture", s.CaptureDeposit)
	api.POST("/deposits/:id/release", s.ReleaseDeposit)
	api.GET("/deposits/:id/statement.pdf", s.DepositStatement)

	// -------- Wallet --------
	api.GET("/wallet", s.GetWallet)
	api.GET("/wallet/entries", s.ListWalletEntries)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:network", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.CronAuthRequired())
	internal.POST("/cron/security-deposits", s.RunDepositSweep)
}
