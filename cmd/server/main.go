package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/config"
	"github.com/consultly/call-server-go/internal/database"
	"github.com/consultly/call-server-go/internal/handler"
	"github.com/consultly/call-server-go/internal/identity"
	"github.com/consultly/call-server-go/internal/jobs"
	"github.com/consultly/call-server-go/internal/media"
	"github.com/consultly/call-server-go/internal/middleware"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/orchestrator"
	"github.com/consultly/call-server-go/internal/payment"
	"github.com/consultly/call-server-go/internal/presence"
	"github.com/consultly/call-server-go/internal/redis"
	"github.com/consultly/call-server-go/internal/registry"
	"github.com/consultly/call-server-go/internal/repository"
	"github.com/consultly/call-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
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

	recordRepo := repository.NewSessionRecordRepository(db.DB)
	archiveRepo := repository.NewRequestArchiveRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	tracker := presence.NewRedisTracker(redisClient, cfg.PresenceFreshness())
	reg := registry.NewRegistry(tracker, cfg.RequestTTL())
	verifier := payment.NewHMACVerifier(cfg.PaymentSignatureSecret)
	provider := media.NewLocalProvider()

	terms := model.BillingTerms{
		RatePerMinuteMinor: cfg.RatePerMinuteMinor,
		Currency:           cfg.Currency,
		FreeMinutes:        cfg.FreeMinutes,
	}
	orch := orchestrator.New(
		reg, verifier, provider, recordRepo, archiveRepo, broker,
		orchestrator.DefaultOptions(terms),
	)

	resolver := identity.NewStaticResolver(cfg.ParticipantTokens)
	authMiddleware := middleware.NewAuthMiddleware(resolver)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)

	requestHandler := handler.NewCallRequestHandler(orch, archiveRepo)
	sessionHandler := handler.NewSessionHandler(orch)
	paymentHandler := handler.NewPaymentHandler(orch)
	presenceHandler := handler.NewPresenceHandler(tracker)
	eventsHandler := handler.NewEventsHandler(broker)
	recordsHandler := handler.NewRecordsHandler(recordRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"liveSessions": orch.LiveSessionCount(),
			"sseClients":   broker.TotalClients(),
			"timestamp":    time.Now().UnixMilli(),
		})
	})

	// Processor webhooks authenticate through the payment signature, not
	// a participant token.
	r.Post("/v1/payments/webhook", paymentHandler.Webhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)

		r.Route("/call-requests", func(r chi.Router) {
			r.Post("/", requestHandler.Create)
			r.Get("/", requestHandler.History)
			r.Get("/{requestID}", requestHandler.Get)
			r.Post("/{requestID}/accept", requestHandler.Accept)
			r.Post("/{requestID}/decline", requestHandler.Decline)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/{sessionID}", sessionHandler.Get)
			r.Post("/{sessionID}/end", sessionHandler.End)
			r.Post("/{sessionID}/extensions", sessionHandler.RequestExtension)
			r.Get("/{sessionID}/extensions", sessionHandler.GetExtension)
		})

		r.Route("/presence", func(r chi.Router) {
			r.Post("/heartbeat", presenceHandler.Heartbeat)
			r.Get("/{providerID}", presenceHandler.Get)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/", recordsHandler.List)
			r.Get("/{sessionID}", recordsHandler.Get)
		})
	})

	sweepJob := jobs.NewSweepJob(reg, archiveRepo, broker, config.SweepJobInterval)
	sweepJob.Start()
	defer sweepJob.Stop()

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

	// Live sessions are finalized with the shutdown reason and their
	// records persisted before the process exits.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session shutdown incomplete")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
