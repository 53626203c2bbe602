package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/HanTheDev/phone-checker/internal/models"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	APIKeys     []string

	LogLevel  string
	LogFormat string

	CacheEnabled       bool
	CacheBackend       string
	CacheDir           string
	CacheMaxSizeBytes  int64
	CacheMaxEntries    int
	CacheSweepInterval time.Duration

	RateLimitBackend string
	RateLimitMaxWait time.Duration

	DefaultTimeout      time.Duration
	MaxConcurrentProbes int
	ProxyURL            string
	UserAgent           string

	PlatformsFile string
	Platforms     map[models.Platform]PlatformConfig
}

// PlatformConfig holds the per-platform knobs consumed by the limiter, the
// cache and the probe adapters.
type PlatformConfig struct {
	Enabled         bool              `yaml:"enabled"`
	RateLimitCalls  int               `yaml:"rate_limit_calls"`
	RateLimitPeriod time.Duration     `yaml:"rate_limit_period"`
	CacheTTL        time.Duration     `yaml:"cache_ttl"`
	MinFreshness    float64           `yaml:"min_freshness"`
	ProbeTimeout    time.Duration     `yaml:"probe_timeout"`
	RetryAttempts   int               `yaml:"retry_attempts"`
	BaseURL         string            `yaml:"base_url"`
	Headers         map[string]string `yaml:"headers"`
}

const (
	CacheBackendFile     = "file"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
	CacheBackendMemory   = "memory"

	RateLimitWindow = "window"
	RateLimitToken  = "token"
	RateLimitRedis  = "redis"
)

// DefaultPlatforms returns the built-in platform settings.
func DefaultPlatforms() map[models.Platform]PlatformConfig {
	return map[models.Platform]PlatformConfig{
		models.WhatsApp: {
			Enabled: true, RateLimitCalls: 10, RateLimitPeriod: time.Minute,
			CacheTTL: time.Hour, ProbeTimeout: 10 * time.Second, RetryAttempts: 3,
			BaseURL: "https://wa.me",
		},
		models.Telegram: {
			Enabled: true, RateLimitCalls: 5, RateLimitPeriod: time.Minute,
			CacheTTL: time.Hour, ProbeTimeout: 15 * time.Second, RetryAttempts: 3,
			BaseURL: "https://my.telegram.org",
		},
		models.Instagram: {
			Enabled: true, RateLimitCalls: 5, RateLimitPeriod: time.Minute,
			CacheTTL: time.Hour, ProbeTimeout: 10 * time.Second, RetryAttempts: 2,
			BaseURL: "https://www.instagram.com",
		},
		models.Snapchat: {
			Enabled: true, RateLimitCalls: 3, RateLimitPeriod: time.Minute,
			CacheTTL: time.Hour, ProbeTimeout: 15 * time.Second, RetryAttempts: 1,
			BaseURL: "https://accounts.snapchat.com",
		},
	}
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		APIKeys:     getEnvList("API_KEYS"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CacheEnabled:       getEnvBool("CACHE_ENABLED", true),
		CacheBackend:       getEnv("CACHE_BACKEND", CacheBackendFile),
		CacheDir:           getEnv("CACHE_DIR", ".cache"),
		CacheMaxSizeBytes:  int64(getEnvInt("CACHE_MAX_SIZE_MB", 100)) << 20,
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 0),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),

		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", RateLimitWindow),
		RateLimitMaxWait: getEnvDuration("RATE_LIMIT_MAX_WAIT", 0),

		DefaultTimeout:      getEnvDuration("CHECK_TIMEOUT", 20*time.Second),
		MaxConcurrentProbes: getEnvInt("MAX_CONCURRENT_PROBES", 16),
		ProxyURL:            getEnv("HTTP_PROXY_URL", ""),
		UserAgent:           getEnv("USER_AGENT", ""),

		PlatformsFile: getEnv("PLATFORMS_FILE", "platforms.yaml"),
		Platforms:     DefaultPlatforms(),
	}

	if err := cfg.applyPlatformsFile(); err != nil {
		return nil, err
	}
	cfg.applyPlatformEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Platform returns the settings for p, falling back to disabled defaults.
func (c *Config) Platform(p models.Platform) PlatformConfig {
	if pc, ok := c.Platforms[p]; ok {
		return pc
	}
	return PlatformConfig{RateLimitCalls: 10, RateLimitPeriod: time.Minute, CacheTTL: time.Hour, ProbeTimeout: 10 * time.Second, RetryAttempts: 3}
}

// EnabledPlatforms lists enabled platforms, built-in ones first in their usual order.
func (c *Config) EnabledPlatforms() []models.Platform {
	var out []models.Platform
	seen := make(map[models.Platform]bool)
	for _, p := range models.KnownPlatforms {
		seen[p] = true
		if pc, ok := c.Platforms[p]; ok && pc.Enabled {
			out = append(out, p)
		}
	}
	var extra []models.Platform
	for p, pc := range c.Platforms {
		if !seen[p] && pc.Enabled {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// CacheTTLs returns the cache TTL of every configured platform.
func (c *Config) CacheTTLs() map[models.Platform]time.Duration {
	out := make(map[models.Platform]time.Duration, len(c.Platforms))
	for p, pc := range c.Platforms {
		out[p] = pc.CacheTTL
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	switch c.CacheBackend {
	case CacheBackendFile, CacheBackendRedis, CacheBackendMemory:
	case CacheBackendPostgres:
		if c.CacheEnabled && c.DatabaseURL == "" {
			errs = append(errs, errors.New("CACHE_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}

	switch c.RateLimitBackend {
	case RateLimitWindow, RateLimitToken, RateLimitRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}

	if c.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("CHECK_TIMEOUT must be positive"))
	}
	if c.MaxConcurrentProbes <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_PROBES must be positive"))
	}
	if c.CacheMaxSizeBytes < 0 || c.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("cache bounds must not be negative"))
	}

	for p, pc := range c.Platforms {
		if pc.RateLimitCalls < 0 {
			errs = append(errs, fmt.Errorf("%s: rate_limit_calls must not be negative", p))
		}
		if pc.RateLimitPeriod <= 0 {
			errs = append(errs, fmt.Errorf("%s: rate_limit_period must be positive", p))
		}
		if pc.CacheTTL <= 0 {
			errs = append(errs, fmt.Errorf("%s: cache_ttl must be positive", p))
		}
		if pc.MinFreshness < 0 || pc.MinFreshness > 1 {
			errs = append(errs, fmt.Errorf("%s: min_freshness must be within [0,1]", p))
		}
		if pc.ProbeTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s: probe_timeout must be positive", p))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) applyPlatformEnv() {
	for p, pc := range c.Platforms {
		prefix := strings.ToUpper(string(p)) + "_"
		pc.Enabled = getEnvBool(prefix+"ENABLED", pc.Enabled)
		pc.RateLimitCalls = getEnvInt(prefix+"RATE_LIMIT_CALLS", pc.RateLimitCalls)
		pc.RateLimitPeriod = getEnvDuration(prefix+"RATE_LIMIT_PERIOD", pc.RateLimitPeriod)
		pc.CacheTTL = getEnvDuration(prefix+"CACHE_TTL", pc.CacheTTL)
		pc.MinFreshness = getEnvFloat(prefix+"MIN_FRESHNESS", pc.MinFreshness)
		pc.ProbeTimeout = getEnvDuration(prefix+"PROBE_TIMEOUT", pc.ProbeTimeout)
		pc.RetryAttempts = getEnvInt(prefix+"RETRY_ATTEMPTS", pc.RetryAttempts)
		pc.BaseURL = getEnv(prefix+"BASE_URL", pc.BaseURL)
		c.Platforms[p] = pc
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvBool(key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
