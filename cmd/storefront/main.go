// Package main запускает HTTP-сервер витрины маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-gateway/internal/backend"
	"github.com/mmeshcher/storefront-gateway/internal/cache"
	"github.com/mmeshcher/storefront-gateway/internal/config"
	"github.com/mmeshcher/storefront-gateway/internal/gate"
	"github.com/mmeshcher/storefront-gateway/internal/handler"
	"github.com/mmeshcher/storefront-gateway/internal/repository"
	"github.com/mmeshcher/storefront-gateway/internal/service"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

const cleanupInterval = time.Hour

type storage interface {
	service.Store
	service.Repository
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	var repo storage
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, cart snapshots are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	var store service.Store = repo
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}

		store = cache.NewCachedStore(repo, cache.NewRedisCache(rdb), logger)
	}

	client := backend.NewClient(cfg.BackendAddress, cfg.BackendTimeout, logger)

	svc := service.NewService(client, store, repo, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, logger, session.NewClassifier(cfg.CookieSecret), gate.New(nil))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartSnapshotCleanup(ctx, cleanupInterval, cfg.CartTTL)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting storefront server",
			"addr", cfg.RunAddress,
			"backend", cfg.BackendAddress,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
