package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/inferguard/internal/auth"
	"github.com/aiox-platform/inferguard/internal/cache"
	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/governance"
	"github.com/aiox-platform/inferguard/internal/governance/quota"
	"github.com/aiox-platform/inferguard/internal/inference"
	mw "github.com/aiox-platform/inferguard/internal/middleware"
	inats "github.com/aiox-platform/inferguard/internal/nats"
	iredis "github.com/aiox-platform/inferguard/internal/redis"
	"github.com/aiox-platform/inferguard/internal/sentiment"
	"github.com/aiox-platform/inferguard/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	clock := clockwork.NewRealClock()

	// Redis (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
	}

	// Quota tracking and admission control
	tracker := quota.NewTracker(cfg.Quota, clock)
	admission := quota.NewAdmission(tracker, cfg.Quota)

	var mirror *quota.HistoryMirror
	if cfg.Quota.MirrorHistory && redisClient != nil {
		mirror = quota.NewHistoryMirror(redisClient, cfg.Quota.HistoryMirrorKey, cfg.Quota.HistoryCapacity)
		tracker.AddObserver(mirror)
	}

	// NATS events (optional)
	var (
		natsClient *inats.Client
		publisher  *inats.Publisher
	)
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		publisher = inats.NewPublisher(natsClient.JetStream(), clock)
		tracker.AddObserver(publisher)
		admission.AddObserver(publisher)
	}

	// Response cache
	var (
		responseCache cache.Cache
		stopSweeper   = func() {}
	)
	switch cfg.Cache.Backend {
	case "redis":
		responseCache = cache.NewRedis(redisClient, cfg.Cache, clock)
	default:
		mem := cache.NewMemory(cfg.Cache, clock)
		stopSweeper = mem.StartSweeper(cfg.Cache.SweepInterval)
		responseCache = mem
	}

	gateway := inference.NewGateway(responseCache, admission)

	// Sentiment
	analyzer := sentiment.NewAnalyzer(cfg.Sentiment, gateway, clock,
		sentiment.WithKeyPrefixLength(cfg.Cache.KeyPrefixLength),
	)
	var sessions sentiment.Store
	switch cfg.Session.Store {
	case "redis":
		sessions = sentiment.NewRedisStore(redisClient, cfg.Session.MaxRecords, cfg.Session.TTL)
	default:
		sessions = sentiment.NewMemoryStore(clock, cfg.Session.MaxRecords, cfg.Session.TTL)
	}
	sentimentHandler := sentiment.NewHandler(analyzer, sessions)

	// Governance and admin
	var invalidations governance.InvalidationPublisher
	if publisher != nil {
		invalidations = publisher
	}
	governanceHandler := governance.NewHandler(tracker, admission, responseCache, mirror, invalidations)
	jwtManager := auth.NewJWTManager(cfg.JWT.AdminSecret, cfg.JWT.Issuer, clock)

	routerCfg := server.RouterConfig{
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		AdminMiddleware:     auth.RequireRole(jwtManager, auth.RoleAdmin),
		SentimentConfigured: analyzer.Configured,
	}
	if redisClient != nil {
		limiter := mw.NewRateLimiter(redisClient, clock, "api", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)
		routerCfg.APIRateLimiter = limiter.Middleware
		routerCfg.Redis = redisClient
	}
	if natsClient != nil {
		routerCfg.NATS = natsClient
	}

	router := server.NewRouter(routerCfg, server.HandlerSet{
		ListSentiments:  sentimentHandler.ListSentiments,
		AnalyzeMessage:  sentimentHandler.AnalyzeMessage,
		ClearSentiments: sentimentHandler.ClearSentiments,

		GetQuota:       governanceHandler.GetQuota,
		ListUsage:      governanceHandler.ListUsage,
		CheckAdmission: governanceHandler.CheckAdmission,

		InvalidateCache:      governanceHandler.InvalidateCache,
		InvalidateCacheScope: governanceHandler.InvalidateCacheScope,
	})

	srv := server.New(cfg.Server, router)
	if redisClient != nil {
		srv.OnShutdown(func() { redisClient.Close() })
	}
	if natsClient != nil {
		srv.OnShutdown(natsClient.Close)
	}
	srv.OnShutdown(stopSweeper)

	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
