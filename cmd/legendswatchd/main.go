package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccogswell/tapestryoflegends/internal/dockerx"
	"github.com/ccogswell/tapestryoflegends/internal/envfile"
	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/internal/watch"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
	"github.com/ccogswell/tapestryoflegends/pkg/logger"
)

func main() {
	cfg := config.LoadWatchConfig()
	log := logger.New("legendswatchd", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink watch.EventSink
	var history watch.EventHistory
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		dsn = envfile.NormalizeDatabaseURL(dsn)
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		runner, err := store.NewMigrationRunner(pool, dsn, "migrations", log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		st := store.New(pool)
		sink = st
		history = st
	} else {
		log.Warn("DATABASE_URL not set, event persistence disabled")
	}

	var tailer watch.LogTailer
	docker, err := dockerx.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker unavailable, log endpoints disabled", "error", err)
	} else {
		defer docker.Close()
		tailer = docker
	}

	checker := health.New(log, cfg.ProbeTimeout)
	monitor := watch.NewMonitor(cfg, log, checker, sink)
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("monitor stopped", "error", err)
		}
	}()

	router := watch.NewRouter(cfg, log, monitor, tailer, history)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("watch server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("watch server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
