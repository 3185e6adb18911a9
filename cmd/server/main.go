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
	"go.uber.org/zap"

	"multikasir/backend/internal/cache"
	"multikasir/backend/internal/config"
	"multikasir/backend/internal/httpapi"
	"multikasir/backend/internal/logger"
	"multikasir/backend/internal/metrics"
	"multikasir/backend/internal/service"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/store/memory"
	pgstore "multikasir/backend/internal/store/postgres"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(logger.ConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	repo, closeRepo, err := buildRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var (
		trees     cache.CategoryTreeCache = cache.NoopCategoryTreeCache{}
		denylist  cache.TokenDenylist     = cache.NewMemoryDenylist()
		sequencer store.SaleSequencer     = repo
	)
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			trees = redisCache
			denylist = redisCache
			// The postgres counter table already persists. The memory store's
			// counter restarts at 1 with the process; the redis counter keeps
			// numbering monotonic across restarts. It does not coordinate
			// several memory-backed instances, whose data is per process anyway.
			if _, ok := repo.(*memory.Store); ok {
				sequencer = redisCache.SaleSequencer(repo)
			}
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: in-process")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := service.New(service.Options{
		Repo:      repo,
		Sequencer: sequencer,
		Trees:     trees,
		TreeTTL:   cfg.CategoryTreeTTL(),
		Metrics:   m,
		Logger:    log,
		Location:  location,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.RefreshSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL(), svc, denylist)
	api := httpapi.New(svc, auth, m, log, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", location.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// buildRepository picks postgres when DATABASE_URL is set and refuses to fall
// back to memory if it cannot connect. The returned close func may be nil.
func buildRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		if cfg.SeedDemoData {
			repo, err := memory.NewSeeded(cfg.SeedAdminPassword)
			if err != nil {
				return nil, nil, fmt.Errorf("seed demo data: %w", err)
			}
			log.Info("repository: in-memory with demo tenant", zap.String("tenant_id", memory.DemoTenantID), zap.String("admin", memory.DemoAdminEmail))
			return repo, nil, nil
		}
		log.Info("repository: in-memory")
		return memory.New(), nil, nil
	}

	if cfg.MigrateOnStart {
		migrator, err := pgstore.OpenMigrator(cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open migrator: %w", err)
		}
		upErr := migrator.Up()
		if err := migrator.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
		if upErr != nil {
			return nil, nil, upErr
		}
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
	}
	log.Info("repository: postgres")
	return pg, pg.Close, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.RefreshSecret) < 32 {
		return fmt.Errorf("REFRESH_SECRET must be set and at least 32 characters")
	}
	if cfg.AuthSecret == cfg.RefreshSecret {
		return fmt.Errorf("AUTH_SECRET and REFRESH_SECRET must differ")
	}
	if cfg.SeedDemoData {
		if cfg.IsProduction() {
			return fmt.Errorf("SEED_DEMO_DATA is not allowed in production")
		}
		if len(cfg.SeedAdminPassword) < 12 {
			return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 12 characters when SEED_DEMO_DATA is set")
		}
	}
	return nil
}
