package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/authorization"
	catalogdomain "github.com/smallbiznis/invoicer/internal/catalog/domain"
	clientdomain "github.com/smallbiznis/invoicer/internal/client/domain"
	"github.com/smallbiznis/invoicer/internal/config"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/observability"
	obslogger "github.com/smallbiznis/invoicer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicer/internal/observability/metrics"
	obstracing "github.com/smallbiznis/invoicer/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
	"github.com/smallbiznis/invoicer/internal/ratelimit"
	"github.com/smallbiznis/invoicer/internal/reporting"
	"github.com/smallbiznis/invoicer/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	clientSvc       clientdomain.Service
	catalogSvc      catalogdomain.Service
	settingsSvc     settings.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	notificationSvc notificationdomain.Service
	obsMetrics      *obsmetrics.Metrics
	checkoutLimiter *ratelimit.CheckoutLimiter
	dashboard       *reporting.Dashboard
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	ClientSvc       clientdomain.Service
	CatalogSvc      catalogdomain.Service
	SettingsSvc     settings.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	NotificationSvc notificationdomain.Service
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	Dashboard       *reporting.Dashboard
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		clientSvc:       p.ClientSvc,
		catalogSvc:      p.CatalogSvc,
		settingsSvc:     p.SettingsSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		notificationSvc: p.NotificationSvc,
		obsMetrics:      p.ObsMetrics,
		checkoutLimiter: p.CheckoutLimiter,
		dashboard:       p.Dashboard,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.ActorContext())

	// -------- Clients --------
	api.GET("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientView), s.ListClients)
	api.POST("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientCreate), s.CreateClient)
	api.GET("/clients/:id", s.authorize(authorization.ObjectClient, authorization.ActionClientView), s.GetClientByID)
	api.DELETE("/clients/:id", s.authorize(authorization.ObjectClient, authorization.ActionClientDelete), s.DeleteClient)

	// -------- Catalog --------
	api.GET("/items", s.authorize(authorization.ObjectItem, authorization.ActionItemView), s.ListItems)
	api.POST("/items", s.authorize(authorization.ObjectItem, authorization.ActionItemCreate), s.CreateItem)
	api.PATCH("/items/:id", s.authorize(authorization.ObjectItem, authorization.ActionItemUpdate), s.UpdateItemPrice)

	// -------- Invoices --------
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	api.POST("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	api.PATCH("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.UpdateInvoice)
	api.DELETE("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceDelete), s.DeleteInvoice)
	api.POST("/invoices/:id/send", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceSend), s.SendInvoice)
	api.POST("/invoices/:id/cancel", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCancel), s.CancelInvoice)
	api.POST("/invoices/:id/archive", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceArchive), s.ArchiveInvoice)
	api.POST("/invoices/:id/restore", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceArchive), s.RestoreInvoice)
	api.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.RenderInvoicePDF)
	api.GET("/invoices/:id/notifications", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoiceNotifications)

	// -------- Payments --------
	api.GET("/invoices/:id/payments", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoicePayments)
	api.POST("/invoices/:id/payments", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCollect), s.RecordPayment)
	api.POST("/invoices/:id/checkout", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCollect), s.CheckoutRateLimit(), s.CreateCheckoutSession)
	api.GET("/payments/:id/receipt", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.RenderReceipt)

	// -------- Settings --------
	api.GET("/settings/tax-rate", s.authorize(authorization.ObjectSettings, authorization.ActionSettingsView), s.GetTaxRate)
	api.PUT("/settings/tax-rate", s.authorize(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.UpdateTaxRate)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- Reports --------
	api.GET("/dashboard", s.authorize(authorization.ObjectReport, authorization.ActionReportDashboard), s.GetDashboard)
	api.GET("/analytics", s.authorize(authorization.ObjectReport, authorization.ActionReportAnalytics), s.GetAnalytics)
}

// registerPublicRoutes serves the client-facing payment links. They carry
// no actor headers; payment confirmation is trusted only after the
// provider verifies the session.
func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/")
	public.Use(s.CheckoutRateLimit())

	public.GET("/invoices/:id/pay", s.PayInvoice)
	public.GET("/payments/success", s.ConfirmCheckout)
}
