package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/harbinger-io/harbinger/internal/adapters/http/api"
	"github.com/harbinger-io/harbinger/internal/adapters/repository"
	"github.com/harbinger-io/harbinger/internal/app"
	"github.com/harbinger-io/harbinger/internal/batch/checkpoint"
	"github.com/harbinger-io/harbinger/internal/batch/detect"
	"github.com/harbinger-io/harbinger/internal/config"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/fleetgen"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics;
	// the custom registry carries its own system gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	cat := catalog.New(cfg.CatalogPath)
	if err := cat.Load(ctx); err != nil {
		log.Error(ctx, "failed to load catalog", logger.String("path", cfg.CatalogPath), logger.Error(err))
		return
	}
	if cfg.WatchCatalog {
		go func() {
			if err := cat.Watch(ctx); err != nil {
				log.Warn(ctx, "catalog watcher stopped", logger.Error(err))
			}
		}()
	}

	var store repository.Store
	if cfg.StoreBackend == "redis" {
		rs, rerr := repository.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if rerr != nil {
			log.Error(ctx, "failed to connect to redis", logger.String("addr", cfg.RedisAddr), logger.Error(rerr))
			return
		}
		defer func() { _ = rs.Close() }()
		store = rs
	} else {
		store = repository.NewMemStore()
	}

	ckStore, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		log.Error(ctx, "failed to open checkpoint store", logger.String("path", cfg.CheckpointPath), logger.Error(err))
		return
	}
	defer func() { _ = ckStore.Close() }()

	// The simulated fleet serves as input source, inventory and change
	// feed until the real vehicle data platform is wired in.
	fleet := fleetgen.New()

	svc, err := app.New(cfg, cat, store, ckStore, fleet, []detect.Source{fleet}, fleet)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return
	}
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return
	}

	go startSystemMetricsUpdater(ctx)

	mux := http.NewServeMux()
	apiServer := api.NewServer(svc)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
}

// startSystemMetricsUpdater refreshes process-level gauges.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}
