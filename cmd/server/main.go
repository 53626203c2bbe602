package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/phone-checker/internal/admin"
	"github.com/HanTheDev/phone-checker/internal/api"
	"github.com/HanTheDev/phone-checker/internal/auth"
	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/checker"
	"github.com/HanTheDev/phone-checker/internal/confidence"
	"github.com/HanTheDev/phone-checker/internal/config"
	"github.com/HanTheDev/phone-checker/internal/db"
	"github.com/HanTheDev/phone-checker/internal/logging"
	"github.com/HanTheDev/phone-checker/internal/metrics"
	"github.com/HanTheDev/phone-checker/internal/phone"
	"github.com/HanTheDev/phone-checker/internal/probe"
	"github.com/HanTheDev/phone-checker/internal/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is shared by the redis cache store and the redis limiter
	var redisClient *redis.Client
	if (cfg.CacheEnabled && cfg.CacheBackend == config.CacheBackendRedis) || cfg.RateLimitBackend == config.RateLimitRedis {
		redisClient, err = ratelimit.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to initialize redis client:", err)
		}
		defer redisClient.Close()
	}

	// Initialize cache
	var smartCache *cache.SmartCache
	if cfg.CacheEnabled {
		store, closeStore, err := openStore(ctx, cfg, redisClient, logger)
		if err != nil {
			log.Fatal("Failed to initialize cache store:", err)
		}
		defer closeStore()

		smartCache = cache.New(store, cache.Options{
			MaxSizeBytes: cfg.CacheMaxSizeBytes,
			MaxEntries:   cfg.CacheMaxEntries,
			TTL:          cfg.CacheTTLs(),
			Logger:       logger,
		})
		n, err := smartCache.Load(ctx)
		if err != nil {
			logger.Warn("failed to load cache index", "error", err)
		}
		log.Printf("Cache ready (%s backend, %d live entries)", cfg.CacheBackend, n)
		smartCache.StartJanitor(ctx, cfg.CacheSweepInterval)
	}

	// Initialize rate limiter
	limiter := newLimiter(cfg, redisClient, logger)

	// Initialize probes
	client, err := probe.NewHTTPClient(cfg.ProxyURL)
	if err != nil {
		log.Fatal("Failed to initialize http client:", err)
	}
	scorer := confidence.NewScorer()
	registry := probe.FromConfig(cfg, client, scorer, logger)

	opts := []checker.Option{
		checker.WithScorer(scorer),
		checker.WithLogger(logger),
	}
	var statsSource metrics.StatsSource
	var inspector admin.CacheInspector
	if smartCache != nil {
		opts = append(opts, checker.WithCache(smartCache))
		statsSource = smartCache
		inspector = smartCache
	}
	opts = append(opts, checker.WithMetrics(metrics.New(prometheus.DefaultRegisterer, statsSource)))

	svc := checker.New(cfg, phone.NewNormalizer(), registry, limiter, opts...)

	// Initialize router
	router := mux.NewRouter()

	// Auth middleware
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)
	keys := auth.NewAPIKeys(cfg.APIKeys)
	if keys.Len() == 0 {
		log.Printf("API_KEYS is empty, no tokens can be issued")
	}

	// Public routes and /v1
	api.NewHandler(svc, keys, cfg.JWTSecret, logger).RegisterRoutes(router, authMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Admin routes
	adminHandler := admin.NewAdminHandler(svc, inspector, limiter, cfg.EnabledPlatforms(), logger)
	adminHandler.RegisterRoutes(router, authMiddleware.Middleware)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DefaultTimeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	log.Printf("Platforms enabled: %v", svc.Platforms())
	log.Printf("Check API available at /v1/*")
	log.Printf("Admin API available at /admin/*")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed:", err)
	}
	log.Printf("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		return cache.NewRedisStore(redisClient), func() {}, nil

	case config.CacheBackendPostgres:
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			database.Close()
			return nil, nil, err
		}
		return database, database.Close, nil

	case config.CacheBackendMemory:
		return cache.NewMemoryStore(), func() {}, nil

	default:
		store, err := cache.NewFileStore(cfg.CacheDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func newLimiter(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) ratelimit.Limiter {
	budgets := ratelimit.BudgetsFromConfig(cfg)
	opts := []ratelimit.Option{
		ratelimit.WithMaxWait(cfg.RateLimitMaxWait),
		ratelimit.WithLogger(logger),
	}

	switch cfg.RateLimitBackend {
	case config.RateLimitToken:
		return ratelimit.NewTokenLimiter(budgets, opts...)
	case config.RateLimitRedis:
		return ratelimit.NewRedisLimiter(redisClient, budgets, opts...)
	default:
		return ratelimit.NewWindowLimiter(budgets, opts...)
	}
}
