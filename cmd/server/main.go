package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrsh22/filify/internal/app/migrate"
	"github.com/hrsh22/filify/internal/builder"
	httpx "github.com/hrsh22/filify/internal/http"
	"github.com/hrsh22/filify/internal/publish"
	"github.com/hrsh22/filify/internal/queue"
	"github.com/hrsh22/filify/internal/repository/postgres"
	"github.com/hrsh22/filify/internal/service/deploy"
	"github.com/hrsh22/filify/internal/workspace"
	"github.com/hrsh22/filify/internal/ws"
	"github.com/hrsh22/filify/pkg/config"
	"github.com/hrsh22/filify/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("server", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TokenSecret == "" {
		log.Error("TOKEN_SECRET is required")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	workspaces, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	procRunner := builder.NewRunner(cfg.MaxBuildOutputBytes)
	engine := builder.New(workspaces, procRunner, builder.Config{
		CloneTimeout:   cfg.CloneTimeout,
		InstallTimeout: cfg.InstallTimeout,
		BuildTimeout:   cfg.BuildTimeout,
	}, log)

	taskQueue := queue.New(log)
	logHub := ws.NewHub()
	uploader := publish.NewHTTPUploader(cfg.StorageServiceURL, cfg.UploadTimeout)
	ens := publish.NewHTTPENS(cfg.ENSServiceURL, cfg.UploadTimeout)
	metrics := deploy.NewMetrics(taskQueue.Len)

	deploySvc := deploy.New(repo, repo, taskQueue, engine, workspaces, uploader, ens, logHub, metrics, log, cfg.TokenSecret)

	// Deployments left mid-flight by the previous process cannot make
	// progress; fail them before accepting traffic.
	recovered, err := deploySvc.RecoverInterrupted(ctx)
	if err != nil {
		log.Error("interrupted deployment recovery failed", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		log.Info("recovered interrupted deployments", "count", recovered)
	}

	router := httpx.New(log, deploySvc, logHub, pool, cfg.WebhookSecret)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("deployment server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("deployment server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
