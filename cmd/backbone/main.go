package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/opspulse/opspulse/internal/notify"
	"github.com/opspulse/opspulse/internal/store"
	"github.com/opspulse/opspulse/internal/stream"
	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/health"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
	"github.com/opspulse/opspulse/pkg/resilience"
)

func main() {
	// .env is optional, real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "opspulse-backbone",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting backbone service",
		"redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		"stream", cfg.Stream.StreamKey,
	)

	// Lazy client: a Redis outage at startup leaves the queue on its
	// local fallback instead of killing the process.
	client, err := store.NewClientLazy(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer client.Close()

	if err := client.Health(context.Background()); err != nil {
		logger.Warn("Redis unreachable at startup, running degraded", "error", err.Error())
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	registry := resilience.DefaultRegistry(resilience.Config{
		FailureThreshold: cfg.Breakers.FailureThreshold,
		SuccessThreshold: cfg.Breakers.SuccessThreshold,
		Timeout:          cfg.Breakers.Timeout,
		OnStateChange: func(name string, from, to resilience.State) {
			m.RecordBreakerTransition(name, from.String(), to.String(), float64(to))
		},
		OnRejection: m.RecordBreakerRejection,
	})

	queue := notify.NewQueue(client, logger)
	queue.SetMetrics(m)
	notifier := notify.NewService(queue, &cfg.Notify, logger)
	notifier.SetMetrics(m)
	notifier.Start()

	logStream := stream.NewStream(client, cfg.Stream, logger)
	logStream.SetMetrics(m)
	logStream.StartFlusher()

	detector := stream.NewDetector(cfg.Anomaly, notifier, logger)
	detector.SetMetrics(m)
	logStream.AddHandler(detector.Handler())

	consumer := fmt.Sprintf("consumer-%s", uuid.NewString()[:8])
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := logStream.Consume(consumerCtx, consumer); err != nil {
			logger.Error("Stream consumer exited", "error", err.Error())
		}
	}()

	// Entries claimed by a crashed consumer are reclaimed after sitting
	// idle for a minute.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-consumerCtx.Done():
				return
			case <-ticker.C:
				if _, err := logStream.ClaimStale(consumerCtx, consumer, time.Minute); err != nil && consumerCtx.Err() == nil {
					logger.Error("Stale entry reclaim failed", "error", err.Error())
				}
			}
		}
	}()

	collector := metrics.NewCollector(m, 15*time.Second, func(m *metrics.Metrics) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats := queue.Stats(ctx)
		m.UpdateQueuePending("redis", stats.Pending)

		if pending, err := logStream.PendingCount(ctx); err == nil {
			m.UpdateStreamPending(pending)
		}
	})
	collector.Start()

	healthSvc := health.NewService(logger, map[string]string{"service": "opspulse-backbone"})
	healthSvc.RegisterChecker("redis", health.NewRedisChecker(client, "redis"))
	healthSvc.RegisterChecker("notification_queue", health.NewQueueChecker(queue, "notification_queue"))
	healthSvc.RegisterChecker("breakers", health.NewBreakerChecker(registry, "breakers"))

	mux := http.NewServeMux()
	mux.Handle("/health", healthSvc.Handler())
	mux.Handle("/health/live", healthSvc.LivenessHandler())
	mux.Handle("/health/ready", healthSvc.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Operational endpoints listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down backbone service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err.Error())
	}

	stopConsumer()
	<-consumerDone

	logStream.StopFlusher()
	notifier.Stop()
	collector.Stop()

	logger.Info("Backbone service stopped")
}
