package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/api"
	"github.com/lendwatch/reconciler/internal/config"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/ingestion"
	"github.com/lendwatch/reconciler/internal/logging"
	"github.com/lendwatch/reconciler/internal/notify"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/reconciliation"
	"github.com/lendwatch/reconciler/internal/repository"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("failed to read .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// top-level context cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("state store init failed", zap.String("backend", cfg.StateBackend), zap.Error(err))
	}
	defer store.Close()
	logger.Info("state store ready", zap.String("backend", cfg.StateBackend))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	tenant := ingestion.NewFileTenant(cfg.DataDir)

	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	bus := event.NewBus(logger)
	bus.Subscribe(hub)
	eventLog := logger.With(zap.String("component", "events"))
	bus.Subscribe(event.ListenerFunc(func(_ context.Context, e event.Event) error {
		eventLog.Info("event", zap.String("name", e.Name()), zap.Stringer("id", e.Header().ID))
		return nil
	}))

	p := portfolio.New(tenant, bus)
	engine := reconciliation.NewService(p, repository.NewStateRepo(store), reconciliation.Options{
		EpochMargin: cfg.EpochMargin,
		Logger:      logger,
	})
	if err := engine.Restore(ctx); err != nil {
		logger.Fatal("restore state failed", zap.Error(err))
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		engine.Run(ctx, cfg.PollInterval)
	}()

	ingestionSvc := ingestion.NewService(cfg.DataDir, logger)
	router := api.NewRouter(engine, ingestionSvc, hub, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", srv.Addr),
			zap.String("data_dir", cfg.DataDir),
			zap.Duration("poll_interval", cfg.PollInterval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-srvErr:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	<-pollDone
	logger.Info("stopped")
}

func openStore(cfg config.AppConfig) (repository.Store, error) {
	switch cfg.StateBackend {
	case config.BackendSQLite:
		db, err := repository.InitDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLStore(db, repository.DialectSQLite), nil
	case config.BackendPostgres:
		db, err := repository.InitPostgres(repository.PostgresInfo{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Username: cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		return repository.NewSQLStore(db, repository.DialectPostgres), nil
	case config.BackendRedis:
		client, err := repository.NewRedisConnection(repository.RedisInfo{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return repository.NewRedisStore(client, cfg.Redis.Prefix), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
}
