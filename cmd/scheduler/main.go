package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/config"
	"github.com/t77yq/cronwell/internal/health"
	"github.com/t77yq/cronwell/internal/poller"
	"github.com/t77yq/cronwell/internal/queue"
	"github.com/t77yq/cronwell/internal/recorder"
	"github.com/t77yq/cronwell/internal/scheduler"
	"github.com/t77yq/cronwell/internal/store"
	"github.com/t77yq/cronwell/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	nc, err := connectNATS(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()
	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	jobs := store.NewSQLiteJobStore(logger, db)
	executions := store.NewSQLiteExecutionStore(logger, db)

	q, err := queue.New(js, queue.Backoff{Base: cfg.Backoff.Base, Max: cfg.Backoff.Max}, logger)
	if err != nil {
		logger.Fatal("Failed to create queue", zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(worker.TemplateResolver{Pattern: cfg.Dispatch.TargetPattern}, logger)
	rec := recorder.New(executions, jobs, logger)
	pool := worker.NewPool(worker.PoolConfig{
		Workers:       cfg.Workers.Count,
		RatePerMinute: cfg.Workers.RatePerMinute,
	}, q, dispatcher, rec, logger)
	p := poller.New(jobs, q, cfg.Poller.Interval, logger)

	sched := scheduler.New(jobs, executions, q, pool, p, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	collector := health.NewCollector(q, cfg.Health.Interval, logger)
	collector.Start(ctx)

	metricsSrv := &http.Server{Addr: cfg.Health.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Periodic sweep of old execution records. The cutoff policy itself is
	// configuration; the core only provides the hook.
	go func() {
		ticker := time.NewTicker(cfg.Health.RetentionSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.Health.RetentionAge)
				if err := executions.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to sweep old executions", zap.Error(err))
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	sched.Stop()
	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown", zap.Error(err))
	}

	logger.Info("Scheduler shut down gracefully")
}

// connectNATS connects with retry and the usual connection handlers.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(cfg.NATS.URLs[0], opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}
