package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/audit"
	"github.com/scrolljustice/summons-server/internal/config"
	"github.com/scrolljustice/summons-server/internal/database"
	"github.com/scrolljustice/summons-server/internal/handler"
	"github.com/scrolljustice/summons-server/internal/httputil"
	"github.com/scrolljustice/summons-server/internal/kv"
	"github.com/scrolljustice/summons-server/internal/metrics"
	"github.com/scrolljustice/summons-server/internal/middleware"
	"github.com/scrolljustice/summons-server/internal/notify"
	"github.com/scrolljustice/summons-server/internal/redis"
	"github.com/scrolljustice/summons-server/internal/repository"
	"github.com/scrolljustice/summons-server/internal/service"
	"github.com/scrolljustice/summons-server/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	summonsRepo := repository.NewSummonsRepository(db.DB)
	auditRepo := repository.NewAuditLogRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.MailerURL != "" {
		notifier = notify.NewMailDispatcher(cfg.MailerURL, cfg.MailerAPIKey, cfg.MailerTimeout())
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	auditAppender := audit.NewStoreAppender(auditRepo, cfg.AuditTimeout())
	summonsService := service.NewSummonsService(
		summonsRepo,
		auditAppender,
		notifier,
		broker,
		rateLimiter,
		service.SummonsConfig{
			SiteBaseURL:        cfg.SiteBaseURL,
			StoreTimeout:       cfg.StoreTimeout(),
			InviteLimitPerHour: cfg.InviteRateLimitPerHour,
		},
	)
	mockeryDetector, err := service.NewMockeryDetector()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build mockery detector")
	}
	preferenceService := service.NewPreferenceService(kv.NewRedisStore(redisClient.Client, ""))

	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimiter)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	sessionAccess := middleware.NewSessionAccessMiddleware(summonsService)

	summonsHandler := handler.NewSummonsHandler(summonsService, preferenceService)
	eventsHandler := handler.NewEventsHandler(broker)
	auditHandler := handler.NewAuditHandler(auditAppender)
	mockeryHandler := handler.NewMockeryHandler(mockeryDetector, preferenceService)
	preferencesHandler := handler.NewPreferencesHandler(preferenceService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		pingCtx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/witness-invitation", summonsHandler.InvitationRoutes())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		// Event streams are long-lived and stay outside the request timeout.
		r.With(sessionAccess.Handler).Get("/sessions/{sessionId}/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/sessions/{sessionId}/summons", summonsHandler.Routes(sessionAccess.Handler))
			r.With(sessionAccess.Handler).Get("/sessions/{sessionId}/audit", auditHandler.List)
			r.Mount("/mockery", mockeryHandler.Routes())
			r.Mount("/preferences", preferencesHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
