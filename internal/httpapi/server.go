// Package httpapi — HTTP-интерфейс сервиса бронирований на echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/confirmation"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/expiry"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reconcile"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reservation"
	"github.com/vladislavdragonenkov/boxoffice/internal/tracing"
)

const (
	maxWebhookBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Services — прикладные сервисы, которые обслуживает API.
type Services struct {
	Verifier  domain.IdentityVerifier
	Engine    *reservation.Engine
	Bookings  domain.BookingRepository
	Pipeline  *confirmation.Pipeline
	Reconcile *reconcile.Service
	Sweeper   *expiry.Sweeper
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCronSecret включает проверку секрета на маршруте cleanup-expired.
func WithCronSecret(secret string) Option {
	return func(s *Server) {
		s.cronSecret = secret
	}
}

// WithTracing подключает otelecho middleware.
func WithTracing(enabled bool) Option {
	return func(s *Server) {
		s.tracing = enabled
	}
}

// Server — HTTP API бронирований.
type Server struct {
	echo       *echo.Echo
	services   Services
	cronSecret string
	tracing    bool
	logger     *log.Entry
	now        func() time.Time
}

// NewServer собирает echo с маршрутами API.
func NewServer(services Services, options ...Option) *Server {
	s := &Server{
		services: services,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "http-api")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	if s.tracing {
		e.Use(otelecho.Middleware(tracing.ServiceName))
	}
	e.Use(s.requestLogger)

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api/v1")

	bookings := api.Group("/bookings", s.requireIdentity)
	bookings.POST("", s.createBooking)
	bookings.POST("/reconcile", s.reconcileBookings)
	bookings.GET("/:id", s.getBooking)
	bookings.POST("/:id/payment-session", s.initiatePayment)
	bookings.POST("/:id/verify", s.verifyBooking)

	api.POST("/webhooks/payment", s.paymentWebhook)

	jobs := api.Group("/jobs", s.requireCronSecret)
	jobs.GET("/cleanup-expired", s.cleanupExpired)
	jobs.POST("/cleanup-expired", s.cleanupExpired)
}

// ServeHTTP позволяет использовать Server как http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run слушает addr до отмены ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("http api listening")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("http api shutdown with error")
		}
		return nil
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger.WithFields(log.Fields{
			"method":   req.Method,
			"path":     c.Path(),
			"status":   c.Response().Status,
			"duration": time.Since(started).String(),
		}).Debug("http request")
		return nil
	}
}
