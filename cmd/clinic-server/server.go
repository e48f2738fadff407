package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/config"
	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/internal/platform/middleware"
	"github.com/clinic/booking/internal/platform/notification"
	"github.com/clinic/booking/internal/platform/validate"
	"github.com/clinic/booking/internal/platform/websocket"
)

const version = "0.1.0"

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load clinic timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	hub := websocket.NewHub(logger)
	var publisher websocket.EventPublisher = hub
	if cfg.RedisURL != "" {
		client, err := events.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		bus := events.NewBus(client, events.DefaultChannel, hub, logger)
		go func() {
			if err := bus.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("realtime relay stopped")
			}
		}()
		publisher = bus
	}

	notifier, closeNotifier := buildNotifier(cfg, publisher, loc, logger)

	e := newServer(cfg, logger)
	registerRoutes(e, cfg, pool, hub, notifier, loc, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := closeNotifier(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pending notifications dropped")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))

	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rl))
	e.Use(metrics.Middleware())
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	return e
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	pool *pgxpool.Pool,
	hub *websocket.Hub,
	notifier scheduling.Notifier,
	loc *time.Location,
	logger zerolog.Logger,
) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	idSvc := identity.NewService(identity.NewUserRepo(pool), identity.NewProfileRepo(pool))
	registry := scheduling.NewSlotRegistry(scheduling.NewSlotRepo(pool), idSvc, loc, logger)
	appts := scheduling.NewAppointmentService(
		registry,
		scheduling.NewAppointmentRepo(pool),
		idSvc,
		idSvc,
		db.NewTxRunner(pool),
		notifier,
		logger,
		scheduling.WithNotifyTimeout(cfg.NotifyTimeout),
	)

	api := e.Group("/api/v1")
	identity.NewHandler(idSvc).RegisterRoutes(api)
	scheduling.NewHandler(registry, appts).RegisterRoutes(api)

	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(e)
}

// buildNotifier wires the configured transports. Unconfigured SMTP or Twilio
// fall back to logging in development and are disabled otherwise.
func buildNotifier(cfg *config.Config, realtime websocket.EventPublisher, loc *time.Location, logger zerolog.Logger) (scheduling.Notifier, func(context.Context) error) {
	dc := notification.DispatcherConfig{
		Realtime:    realtime,
		Clinic:      notification.ClinicInfo{Name: cfg.ClinicName, Phone: cfg.ClinicPhone, Address: cfg.ClinicAddress},
		CountryCode: cfg.SMSDefaultCountryCode,
		Location:    loc,
	}
	logSender := notification.NewLogSender(logger)

	switch {
	case cfg.SMTPEnabled():
		dc.Email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case cfg.IsDev():
		dc.Email = logSender
	}

	switch {
	case cfg.TwilioEnabled():
		dc.SMS = notification.NewTwilioSender(notification.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFromNumber,
		})
	case cfg.IsDev():
		dc.SMS = logSender
	}

	dispatcher := notification.NewDispatcher(dc, logger)
	if !cfg.NotifyAsync {
		return dispatcher, func(context.Context) error { return nil }
	}
	q := notification.NewQueue(dispatcher, cfg.NotifyWorkers, 256, cfg.NotifyTimeout, logger)
	return q, q.Close
}
