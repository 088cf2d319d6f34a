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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tableside/api/routes"
	"github.com/angelmondragon/tableside/internal/backend"
	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/internal/cron"
	"github.com/angelmondragon/tableside/internal/storage"
	"github.com/angelmondragon/tableside/internal/tracking"
	"github.com/angelmondragon/tableside/pkg/config"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/metrics"
	pkgredis "github.com/angelmondragon/tableside/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "gateway"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "gateway",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := storage.Open(ctx, cfg, logg)
	requireResource(ctx, logg, "cart storage", err)

	restaurant, err := backend.New(cfg.Backend, logg)
	requireResource(ctx, logg, "restaurant backend client", err)

	carts, err := cart.NewManager(store.Store, restaurant, logg, cart.Options{
		CheckoutTimeout: cfg.Backend.Timeout,
		StorageRetry:    cfg.Storage.RetryInterval,
		Metrics:         metrics.NewCartMetrics(reg),
	})
	requireResource(ctx, logg, "cart manager", err)

	var dialer tracking.Dialer
	if cfg.Push.Enabled {
		dialer = tracking.NewWebsocketDialer(cfg.Push.URL, cfg.Backend.BearerToken, cfg.Push.DialTimeout)
	}
	tracker, err := tracking.NewSynchronizer(dialer, restaurant, logg, tracking.Options{
		MaxRetries:       cfg.Push.MaxRetries,
		RetryDelay:       cfg.Push.RetryDelay,
		DialTimeout:      cfg.Push.DialTimeout,
		PollInterval:     cfg.Push.PollInterval,
		MinSessionUptime: cfg.Push.MinUptime,
		Metrics:          metrics.NewSyncMetrics(reg),
	})
	requireResource(ctx, logg, "order synchronizer", err)

	go func() {
		if err := tracker.Run(ctx); err != nil {
			logg.Error(ctx, "order synchronizer stopped", err)
		}
	}()

	maintenance, err := newMaintenance(logg, store, cfg.Storage.PurgeInterval, metrics.NewCronJobMetrics(reg))
	requireResource(ctx, logg, "maintenance scheduler", err)
	go func() {
		if err := maintenance.Run(ctx); err != nil {
			logg.Error(ctx, "maintenance scheduler stopped", err)
		}
	}()

	var idempotency pkgredis.IdempotencyStore
	if store.Redis != nil {
		idempotency = store.Redis
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"addr":           addr,
		"storage_driver": cfg.Storage.Driver,
		"push_enabled":   cfg.Push.Enabled,
	})
	logg.Info(logCtx, "starting gateway")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, carts, idempotency, carts, tracker, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown requested")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "gateway stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// stopping the synchronizer first ends open event streams
	tracker.Close()
	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		store.Close(),
	)
	if err != nil {
		logg.Error(logCtx, "shutdown incomplete", err)
		os.Exit(1)
	}
	logg.Info(logCtx, "gateway stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

const purgeLockKey = "ts:lock:cart-purge"

// newMaintenance schedules the cart purge for stores that do not expire entries themselves.
func newMaintenance(logg *logger.Logger, store *storage.Backend, every time.Duration, m *metrics.CronJobMetrics) (*cron.Service, error) {
	registry, err := cron.NewRegistry()
	if err != nil {
		return nil, err
	}
	if sqlStore, ok := store.Store.(*storage.SQL); ok {
		job, err := cron.NewCartPurgeJob(logg, sqlStore)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}

	var lock cron.Lock = &cron.LocalLock{}
	if store.Redis != nil {
		lock, err = cron.NewRedisLock(store.Redis, store.Redis.StorageKey(purgeLockKey), every)
		if err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Interval: every,
	})
}
