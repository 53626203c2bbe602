package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/HanTheDev/phone-checker/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PLATFORMS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.CacheMaxSizeBytes != 100<<20 {
		t.Errorf("CacheMaxSizeBytes = %d, want %d", cfg.CacheMaxSizeBytes, 100<<20)
	}

	tests := []struct {
		platform models.Platform
		calls    int
		timeout  time.Duration
		retries  int
	}{
		{models.WhatsApp, 10, 10 * time.Second, 3},
		{models.Telegram, 5, 15 * time.Second, 3},
		{models.Instagram, 5, 10 * time.Second, 2},
		{models.Snapchat, 3, 15 * time.Second, 1},
	}
	for _, tt := range tests {
		pc := cfg.Platform(tt.platform)
		if pc.RateLimitCalls != tt.calls || pc.ProbeTimeout != tt.timeout || pc.RetryAttempts != tt.retries {
			t.Errorf("Platform(%s) = %+v, want calls=%d timeout=%v retries=%d", tt.platform, pc, tt.calls, tt.timeout, tt.retries)
		}
		if pc.RateLimitPeriod != time.Minute {
			t.Errorf("Platform(%s).RateLimitPeriod = %v, want 1m", tt.platform, pc.RateLimitPeriod)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PLATFORMS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SNAPCHAT_ENABLED", "false")
	t.Setenv("TELEGRAM_RATE_LIMIT_CALLS", "42")
	t.Setenv("TELEGRAM_CACHE_TTL", "2h")
	t.Setenv("API_KEYS", "one, two,,three")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Platform(models.Telegram).RateLimitCalls; got != 42 {
		t.Errorf("telegram RateLimitCalls = %d, want 42", got)
	}
	if got := cfg.Platform(models.Telegram).CacheTTL; got != 2*time.Hour {
		t.Errorf("telegram CacheTTL = %v, want 2h", got)
	}
	want := []models.Platform{models.WhatsApp, models.Telegram, models.Instagram}
	if got := cfg.EnabledPlatforms(); !reflect.DeepEqual(got, want) {
		t.Errorf("EnabledPlatforms() = %v, want %v", got, want)
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(cfg.APIKeys, want) {
		t.Errorf("APIKeys = %v, want %v", cfg.APIKeys, want)
	}
}

func TestLoad_PlatformsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	content := `
platforms:
  whatsapp:
    rate_limit_calls: 20
    min_freshness: 0.5
    headers:
      Accept-Language: fr-FR
  signal:
    enabled: true
    base_url: https://signal.example
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLATFORMS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wa := cfg.Platform(models.WhatsApp)
	if wa.RateLimitCalls != 20 || wa.MinFreshness != 0.5 {
		t.Errorf("whatsapp = %+v, want calls=20 min_freshness=0.5", wa)
	}
	if wa.ProbeTimeout != 10*time.Second {
		t.Errorf("whatsapp ProbeTimeout = %v, want untouched 10s", wa.ProbeTimeout)
	}
	if wa.Headers["Accept-Language"] != "fr-FR" {
		t.Errorf("whatsapp headers = %v", wa.Headers)
	}

	enabled := cfg.EnabledPlatforms()
	if enabled[len(enabled)-1] != "signal" {
		t.Errorf("EnabledPlatforms() = %v, want signal last", enabled)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "memcached" }, "CACHE_BACKEND"},
		{"postgres without url", func(c *Config) { c.CacheBackend = CacheBackendPostgres }, "DATABASE_URL"},
		{"unknown limiter", func(c *Config) { c.RateLimitBackend = "leaky" }, "RATE_LIMIT_BACKEND"},
		{"zero timeout", func(c *Config) { c.DefaultTimeout = 0 }, "CHECK_TIMEOUT"},
		{"bad freshness", func(c *Config) {
			pc := c.Platforms[models.WhatsApp]
			pc.MinFreshness = 2
			c.Platforms[models.WhatsApp] = pc
		}, "min_freshness"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				CacheEnabled:        true,
				CacheBackend:        CacheBackendFile,
				RateLimitBackend:    RateLimitWindow,
				DefaultTimeout:      time.Second,
				MaxConcurrentProbes: 1,
				Platforms:           DefaultPlatforms(),
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
