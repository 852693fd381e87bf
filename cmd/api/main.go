package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dealroom/api/internal/app"
	"dealroom/api/internal/config"
	"dealroom/api/internal/editlock"
	"dealroom/api/internal/metrics"
	"dealroom/api/internal/redislock"
	"dealroom/api/internal/session"
	"dealroom/api/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool := store.DefaultPool()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = max(cfg.DBMaxOpenConns/2, 1)
	pool.ConnectAttempts = cfg.DBConnectAttempts
	db, err := store.Open(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	lockMetrics, err := metrics.New()
	if err != nil {
		log.Fatalf("metrics registration failed: %v", err)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = session.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
	}

	var lockStore editlock.Store
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		if redisClient == nil {
			log.Fatalf("LOCK_BACKEND=redis requires REDIS_URL")
		}
		lockStore = redislock.New(redisClient, "")
	case config.LockBackendMemory:
		log.Printf("WARNING: in-memory edit locks are not shared between API instances")
		lockStore = editlock.NewMemoryStore()
	default:
		lockStore = dataStore
	}
	log.Printf("Using %s for edit locks (timeout %s)", cfg.LockBackend, cfg.LockTimeout)
	locks := editlock.NewManager(lockStore, cfg.LockTimeout, editlock.WithObserver(lockMetrics))

	var service *app.Service
	if redisClient != nil {
		log.Printf("Using Redis for refresh token storage")
		service = app.NewWithSessionStore(cfg, dataStore, session.NewRedisStore(redisClient), locks)
		service.AddReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, locks)
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	sweeper := editlock.NewSweeper(locks, cfg.LockSweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, lockMetrics)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Dealroom API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
