package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rsvp/internal/config"
	"rsvp/internal/logging"
	"rsvp/internal/metrics"
	"rsvp/internal/notify"
	"rsvp/internal/queue"
	"rsvp/internal/store"
)

// Worker drains the Redis event outbox and forwards each event to the AMQP
// exchange for downstream notifiers.
func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("component", "worker").Logger()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.QueueBackend != "redis" {
		log.Fatal().Str("queue_backend", cfg.QueueBackend).Msg("worker needs QUEUE_BACKEND=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, will keep retrying")
	}

	pub := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer func() { _ = pub.Close() }()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	fwd := notify.NewForwarder(q, pub, log, metrics.New(prometheus.DefaultRegisterer))
	if err := fwd.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}
}
