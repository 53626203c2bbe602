package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// PlatformsFile is the structure of the optional platforms.yaml file.
// Only the fields present in the file override the defaults.
type PlatformsFile struct {
	Platforms map[string]PlatformOverride `yaml:"platforms"`
}

// PlatformOverride is a partial PlatformConfig; nil fields keep the current value.
type PlatformOverride struct {
	Enabled         *bool             `yaml:"enabled"`
	RateLimitCalls  *int              `yaml:"rate_limit_calls"`
	RateLimitPeriod *time.Duration    `yaml:"rate_limit_period"`
	CacheTTL        *time.Duration    `yaml:"cache_ttl"`
	MinFreshness    *float64          `yaml:"min_freshness"`
	ProbeTimeout    *time.Duration    `yaml:"probe_timeout"`
	RetryAttempts   *int              `yaml:"retry_attempts"`
	BaseURL         *string           `yaml:"base_url"`
	Headers         map[string]string `yaml:"headers"`
}

// LoadPlatformsFile reads the platform override file at path.
// Returns nil without error if the file doesn't exist.
func LoadPlatformsFile(path string) (*PlatformsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f PlatformsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &f, nil
}

func (c *Config) applyPlatformsFile() error {
	f, err := LoadPlatformsFile(c.PlatformsFile)
	if err != nil || f == nil {
		return err
	}
	c.Platforms = f.Apply(c.Platforms)
	return nil
}

// Apply merges the overrides into base and returns it. Platforms missing from
// base start from the generic defaults, disabled unless the file enables them.
func (f *PlatformsFile) Apply(base map[models.Platform]PlatformConfig) map[models.Platform]PlatformConfig {
	if base == nil {
		base = make(map[models.Platform]PlatformConfig)
	}
	for name, o := range f.Platforms {
		p := models.Platform(name)
		pc, ok := base[p]
		if !ok {
			pc = (&Config{}).Platform(p)
		}
		if o.Enabled != nil {
			pc.Enabled = *o.Enabled
		}
		if o.RateLimitCalls != nil {
			pc.RateLimitCalls = *o.RateLimitCalls
		}
		if o.RateLimitPeriod != nil {
			pc.RateLimitPeriod = *o.RateLimitPeriod
		}
		if o.CacheTTL != nil {
			pc.CacheTTL = *o.CacheTTL
		}
		if o.MinFreshness != nil {
			pc.MinFreshness = *o.MinFreshness
		}
		if o.ProbeTimeout != nil {
			pc.ProbeTimeout = *o.ProbeTimeout
		}
		if o.RetryAttempts != nil {
			pc.RetryAttempts = *o.RetryAttempts
		}
		if o.BaseURL != nil {
			pc.BaseURL = *o.BaseURL
		}
		if len(o.Headers) > 0 {
			merged := make(map[string]string, len(pc.Headers)+len(o.Headers))
			for k, v := range pc.Headers {
				merged[k] = v
			}
			for k, v := range o.Headers {
				merged[k] = v
			}
			pc.Headers = merged
		}
		base[p] = pc
	}
	return base
}
