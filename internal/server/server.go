// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/billing"
	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/render"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BillService is the billing surface the HTTP layer needs.
type BillService interface {
	EnterBill(ctx context.Context, req billing.EnterBillRequest) (*model.Bill, error)
	UpdateBill(ctx context.Context, unit string, period model.Period, upd billing.BillUpdate) (*model.Bill, error)
	DeleteBill(ctx context.Context, unit string, period model.Period) error
	SetStatus(ctx context.Context, unit string, period model.Period, status model.BillStatus) (*model.Bill, error)
	GetBill(ctx context.Context, unit string, period model.Period) (*model.Bill, error)
	BillLines(ctx context.Context, unit string, period model.Period) ([]model.SurchargeApplication, error)
	BillsForPeriod(ctx context.Context, period model.Period) ([]model.Bill, error)

	RecordReading(ctx context.Context, unit string, period model.Period, present decimal.Decimal) (*model.MeterReading, error)
	Reading(ctx context.Context, unit string, period model.Period) (*model.MeterReading, error)
	History(ctx context.Context, unit string) ([]model.MeterReading, error)
	PriorPeriods(ctx context.Context, unit string, period model.Period) ([]model.Period, error)

	SaveAccount(ctx context.Context, a *model.Account) error
	Account(ctx context.Context, unit string) (*model.Account, error)
}

// RateService is the rate catalog surface the HTTP layer needs.
type RateService interface {
	TariffRate(ctx context.Context, category string, units decimal.Decimal, asOf time.Time) (rates.TariffResolution, error)
	UpsertTariff(ctx context.Context, e *model.TariffEntry) error
	UpsertFlatRate(ctx context.Context, r *model.FlatRate) error
	UpsertSurchargeRate(ctx context.Context, r *model.SurchargeRate) error
	SurchargeTypes(ctx context.Context) ([]model.SurchargeType, error)
	SurchargeDates(ctx context.Context, typeID int64) ([]time.Time, error)
}

// Renderer produces printable bills.
type Renderer interface {
	Render(bc render.BillContext) ([]byte, error)
	RenderBatch(period model.Period, bills []render.BillContext) ([]byte, error)
}

// HTTPServer encapsulates the HTTP server and its dependencies.
type HTTPServer struct {
	server      *http.Server
	config      *config.Config
	bills       BillService
	rates       RateService
	renderer    Renderer
	rateLimiter *rate.Limiter
	shutdownWg  sync.WaitGroup
	logger      *zap.Logger
	clock       func() time.Time
}

// NewHTTPServer creates a new HTTPServer instance.
func NewHTTPServer(cfg *config.Config, bills BillService, rateSvc RateService, renderer Renderer, logger *zap.Logger) *HTTPServer {
	// Burst of twice the steady rate.
	limiter := rate.NewLimiter(rate.Limit(cfg.Server.RateLimitPerSecond), cfg.Server.RateLimitPerSecond*2)

	srv := &HTTPServer{
		config:      cfg,
		bills:       bills,
		rates:       rateSvc,
		renderer:    renderer,
		rateLimiter: limiter,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}

	srv.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return srv
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() *gin.Engine {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger), instrument())

	r.GET("/health", s.handleHealthCheck)
	if s.config.Metrics.Enabled {
		r.GET(s.config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1", rateLimit(s.rateLimiter))
	{
		v1.POST("/readings", s.handleRecordReading)
		v1.GET("/readings/:unit/:period", s.handleGetReading)
		v1.GET("/units/:unit/history", s.handleHistory)
		v1.GET("/units/:unit/periods", s.handlePriorPeriods)
		v1.PUT("/units/:unit", s.handleSaveAccount)
		v1.GET("/units/:unit", s.handleGetAccount)

		v1.POST("/bills", s.handleEnterBill)
		v1.GET("/bills/:unit/:period", s.handleGetBill)
		v1.PATCH("/bills/:unit/:period", s.handleUpdateBill)
		v1.DELETE("/bills/:unit/:period", s.handleDeleteBill)
		v1.PUT("/bills/:unit/:period/status", s.handleSetStatus)
		v1.GET("/bills/:unit/:period/pdf", s.handleBillPDF)
		v1.GET("/periods/:period/bills", s.handlePeriodBills)
		v1.GET("/periods/:period/bills.pdf", s.handlePeriodPDF)

		v1.GET("/rates/tariff", s.handleTariffLookup)
		v1.POST("/rates/tariff", s.handleUpsertTariff)
		v1.POST("/rates/gst", s.handleUpsertFlatRate(model.FlatRateGST))
		v1.POST("/rates/duty", s.handleUpsertFlatRate(model.FlatRateDuty))
		v1.POST("/rates/surcharge", s.handleUpsertSurchargeRate)
		v1.GET("/surcharge-types", s.handleSurchargeTypes)
		v1.GET("/surcharge-types/:id/dates", s.handleSurchargeDates)
	}
	return r
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	err := s.server.Shutdown(ctx)
	s.shutdownWg.Wait()
	s.logger.Info("HTTP server stopped.")
	return err
}

func (s *HTTPServer) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": s.clock().Format(time.RFC3339)})
}
