package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Quota     QuotaConfig
	Cache     CacheConfig
	Sentiment SentimentConfig
	Session   SessionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Enabled is false when REDIS_HOST is unset and no backend asks for Redis.
	Enabled bool
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AdminSecret string
	Issuer      string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

// QuotaConfig holds the fixed call budgets of the upstream inference API.
type QuotaConfig struct {
	DailyLimit       int
	HourlyLimit      int
	CriticalPercent  float64
	ElevatedPercent  float64
	Timezone         string
	HistoryCapacity  int
	MirrorHistory    bool
	HistoryMirrorKey string
}

// Location resolves Timezone, falling back to UTC.
func (c QuotaConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type CacheConfig struct {
	Backend          string
	DefaultTTLDays   int
	SweepProbability float64
	KeyPrefixLength  int
	SweepInterval    time.Duration
	RedisKeyPrefix   string
}

type SentimentConfig struct {
	Endpoint     string
	APIKey       string
	Model        string
	Timeout      time.Duration
	Priority     int
	CacheTTLDays int
}

type SessionConfig struct {
	Store      string
	TTL        time.Duration
	MaxRecords int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AdminSecret: k.String("jwt.admin.secret"),
			Issuer:      k.String("jwt.issuer"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		Quota: QuotaConfig{
			DailyLimit:       k.Int("quota.daily.limit"),
			HourlyLimit:      k.Int("quota.hourly.limit"),
			CriticalPercent:  k.Float64("quota.critical.percent"),
			ElevatedPercent:  k.Float64("quota.elevated.percent"),
			Timezone:         k.String("quota.timezone"),
			HistoryCapacity:  k.Int("quota.history.capacity"),
			MirrorHistory:    k.Bool("quota.mirror.history"),
			HistoryMirrorKey: k.String("quota.history.mirror.key"),
		},
		Cache: CacheConfig{
			Backend:          k.String("cache.backend"),
			DefaultTTLDays:   k.Int("cache.default.ttl.days"),
			SweepProbability: k.Float64("cache.sweep.probability"),
			KeyPrefixLength:  k.Int("cache.key.prefix.length"),
			RedisKeyPrefix:   k.String("cache.redis.key.prefix"),
		},
		Sentiment: SentimentConfig{
			Endpoint:     k.String("sentiment.endpoint"),
			APIKey:       k.String("sentiment.api.key"),
			Model:        k.String("sentiment.model"),
			Priority:     k.Int("sentiment.priority"),
			CacheTTLDays: k.Int("sentiment.cache.ttl.days"),
		},
		Session: SessionConfig{
			Store:      k.String("session.store"),
			MaxRecords: k.Int("session.max.records"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	applyDefaults(cfg)

	// Zero is a valid probability: it disables the lazy sweep.
	if !k.Exists("cache.sweep.probability") {
		cfg.Cache.SweepProbability = 0.1
	}

	cfg.Redis.Enabled = cfg.Redis.Host != "" ||
		cfg.Cache.Backend == "redis" ||
		cfg.Session.Store == "redis" ||
		cfg.Quota.MirrorHistory
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}

	// Parse durations
	cfg.Cache.SweepInterval, err = parseDuration(k.String("cache.sweep.interval"), "0s")
	if err != nil {
		return nil, fmt.Errorf("parsing cache sweep interval: %w", err)
	}
	cfg.Sentiment.Timeout, err = parseDuration(k.String("sentiment.timeout"), "10s")
	if err != nil {
		return nil, fmt.Errorf("parsing sentiment timeout: %w", err)
	}
	cfg.Session.TTL, err = parseDuration(k.String("session.ttl"), "24h")
	if err != nil {
		return nil, fmt.Errorf("parsing session ttl: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "inferguard"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 60
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Quota.DailyLimit == 0 {
		cfg.Quota.DailyLimit = 1000
	}
	if cfg.Quota.HourlyLimit == 0 {
		cfg.Quota.HourlyLimit = 100
	}
	if cfg.Quota.CriticalPercent == 0 {
		cfg.Quota.CriticalPercent = 90
	}
	if cfg.Quota.ElevatedPercent == 0 {
		cfg.Quota.ElevatedPercent = 75
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if cfg.Quota.HistoryCapacity == 0 {
		cfg.Quota.HistoryCapacity = 100
	}
	if cfg.Quota.HistoryMirrorKey == "" {
		cfg.Quota.HistoryMirrorKey = "inferguard:usage"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.DefaultTTLDays == 0 {
		cfg.Cache.DefaultTTLDays = 7
	}
	if cfg.Cache.KeyPrefixLength == 0 {
		cfg.Cache.KeyPrefixLength = 100
	}
	if cfg.Cache.RedisKeyPrefix == "" {
		cfg.Cache.RedisKeyPrefix = "inferguard:cache:"
	}
	if cfg.Sentiment.Model == "" {
		cfg.Sentiment.Model = "gpt-4o-mini"
	}
	if cfg.Sentiment.Priority == 0 {
		cfg.Sentiment.Priority = 4
	}
	if cfg.Sentiment.CacheTTLDays == 0 {
		cfg.Sentiment.CacheTTLDays = 1
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.MaxRecords == 0 {
		cfg.Session.MaxRecords = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func parseDuration(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}
	return time.ParseDuration(s)
}
