package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rsvp/internal/attendance"
	"rsvp/internal/auth"
	"rsvp/internal/broadcast"
	"rsvp/internal/config"
	"rsvp/internal/credential"
	"rsvp/internal/handler"
	"rsvp/internal/httpmiddleware"
	"rsvp/internal/logging"
	"rsvp/internal/metrics"
	"rsvp/internal/notify"
	"rsvp/internal/queue"
	"rsvp/internal/store"
	"rsvp/internal/telemetry"
	"rsvp/internal/token"
)

func main() {
	// rsvp-api hash-pin <pin> prints a value for STAFF_PIN_HASH.
	if len(os.Args) == 3 && os.Args[1] == "hash-pin" {
		hash, err := auth.HashPIN(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "rsvp-api", cfg.OTELEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	m := metrics.New(prometheus.DefaultRegisterer)
	checks := []handler.HealthCheck{}

	var records attendance.Store
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store, registrations are lost on restart")
		records = attendance.NewMemoryStore()
	} else {
		db, err := store.NewDB(ctx, cfg.StoreDriver, cfg.StoreDSN())
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		defer func() { _ = db.Close() }()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		records = attendance.NewRepository(db)
	}
	checks = append(checks, handler.HealthCheck{Name: "store", Check: records.Ping})

	var redisClient *store.Redis
	if cfg.RelayBackend == "redis" || cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			if !redisClient.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}})
	}

	hubOpts := []broadcast.Option{
		broadcast.WithBuffer(cfg.SubscriberBuffer),
		broadcast.WithLogger(log.With().Str("component", "broadcast").Logger()),
		broadcast.WithMetrics(m),
	}
	if cfg.InstanceID != "" {
		hubOpts = append(hubOpts, broadcast.WithOrigin(cfg.InstanceID))
	}
	var relay *broadcast.RedisRelay
	if cfg.RelayBackend == "redis" {
		relay = broadcast.NewRedisRelay(redisClient.Client, broadcast.DefaultChannel, log.With().Str("component", "relay").Logger())
		hubOpts = append(hubOpts, broadcast.WithSinks(relay))
	}
	switch cfg.QueueBackend {
	case "redis":
		hubOpts = append(hubOpts, broadcast.WithSinks(broadcast.NewQueueSink(queue.NewRedisQueue(redisClient.Client, cfg.QueueKey))))
	case "memory":
		// in-memory outbox, forwarded from this process
		q := queue.NewInMemory(256)
		hubOpts = append(hubOpts, broadcast.WithSinks(broadcast.NewQueueSink(q)))
		pub := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		defer func() { _ = pub.Close() }()
		fwd := notify.NewForwarder(q, pub, log.With().Str("component", "forwarder").Logger(), m)
		go func() { _ = fwd.Run(ctx) }()
	}
	hub := broadcast.NewHub(hubOpts...)
	defer hub.Close()
	if relay != nil {
		go func() {
			if err := relay.Run(ctx, hub); err != nil {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		if secret, err = token.GenerateSecret(); err != nil {
			return err
		}
		log.Warn().Msg("TOKEN_SECRET not set, generated a process-local secret; issued tokens will not verify after a restart")
	}
	tokens, err := token.New(secret, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	svcOpts := []attendance.Option{
		attendance.WithLogger(log.With().Str("component", "attendance").Logger()),
		attendance.WithMetrics(m),
		attendance.WithTokenTTL(cfg.TokenTTL),
		attendance.WithMaxCodeAttempts(cfg.CodeMaxAttempts),
	}
	if cfg.QREnabled {
		svcOpts = append(svcOpts, attendance.WithQRRenderer(credential.NewQRRenderer()))
	}
	svc := attendance.NewService(records, tokens, hub, svcOpts...)

	staff := auth.NewAuthenticator(cfg.StaffPINHash, cfg.JWTSigningKey, cfg.JWTIssuer, cfg.StaffTokenTTL)
	if !cfg.StaffAuthEnabled() {
		log.Warn().Msg("STAFF_PIN_HASH not set, staff routes are open")
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisTokenBucket(redisClient.Client, cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.AccessLog(log.With().Str("component", "http").Logger(), "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, log))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(svc, hub, staff, log.With().Str("component", "handler").Logger(), checks...).Register(r)

	// WriteTimeout stays zero so the event stream is not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
