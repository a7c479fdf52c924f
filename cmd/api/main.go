package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cryphlabs/checkout-api/internal/checkout"
	"github.com/cryphlabs/checkout-api/internal/common"
	"github.com/cryphlabs/checkout-api/internal/config"
	"github.com/cryphlabs/checkout-api/internal/gateway"
	"github.com/cryphlabs/checkout-api/internal/health"
	"github.com/cryphlabs/checkout-api/internal/membership"
	"github.com/cryphlabs/checkout-api/internal/obs"
	"github.com/cryphlabs/checkout-api/internal/resilience"
	"github.com/cryphlabs/checkout-api/internal/store"
	"github.com/cryphlabs/checkout-api/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "checkout")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := false
	shutdownTracer, err := obs.SetupTracing(context.Background(), obs.TracingFromEnv(cfg.AppEnv))
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else if shutdownTracer != nil {
		tracingEnabled = true
		defer func() {
			ctx := context.Background()
			if err := shutdownTracer(ctx); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	// Redis backs idempotency keys and is optional: without it duplicate
	// submissions are simply not deduplicated.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
		cancel()
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:        cfg.AsaasBaseURL,
		APIKey:         cfg.AsaasAPIKey,
		Timeout:        cfg.GatewayTimeout,
		MaxAttempts:    cfg.GatewayMaxAttempts,
		QRPollAttempts: cfg.QRPollAttempts,
		QRPollBackoff:  cfg.QRPollBackoff,
		Breaker:        resilience.NewBreaker(10, 0.5, 30*time.Second),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise gateway client")
	}

	var members membership.Notifier = membership.Nop{}
	if cfg.MembershipAPIURL != "" {
		members = membership.New(cfg.MembershipAPIURL, logger)
	}

	checkoutSvc := &checkout.Service{
		Store:    st,
		Gateway:  gw,
		Deadline: cfg.PaymentDeadline,
		Log:      logger,
	}
	checkoutHandler := checkout.NewHandler(checkoutSvc)

	webhookReceiver := &webhook.Receiver{
		Store:      st,
		Token:      cfg.AsaasWebhookToken,
		Membership: members,
		Log:        logger,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: db, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/payments", func(p chi.Router) {
			p.With(idem.Middleware).Post("/", checkoutHandler.Create)
			p.Post("/{id}/charge-card", checkoutHandler.ChargeCard)
			p.Get("/", checkoutHandler.List)
			p.Get("/{id}", checkoutHandler.Get)
		})
		v.Post("/webhooks/asaas", webhookReceiver.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
