package checker

import (
	"context"
	"fmt"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/models"
)

type Stats struct {
	TotalChecks       int64             `json:"total_checks"`
	PlatformResults   int64             `json:"platform_results"`
	SuccessfulResults int64             `json:"successful_results"`
	FailedResults     int64             `json:"failed_results"`
	CacheHits         int64             `json:"cache_hits"`
	CacheMisses       int64             `json:"cache_misses"`
	CacheErrors       int64             `json:"cache_errors"`
	LiveProbes        int64             `json:"live_probes"`
	RateLimited       int64             `json:"rate_limited"`
	Timeouts          int64             `json:"timeouts"`
	CacheHitRate      float64           `json:"cache_hit_rate"`
	SuccessRate       float64           `json:"success_rate"`
	CacheEnabled      bool              `json:"cache_enabled"`
	Platforms         []models.Platform `json:"available_platforms"`
	Cache             *cache.Stats      `json:"cache,omitempty"`
}

func (c *Checker) Stats() Stats {
	s := Stats{
		TotalChecks:       c.counters.checks.Load(),
		PlatformResults:   c.counters.results.Load(),
		SuccessfulResults: c.counters.successful.Load(),
		FailedResults:     c.counters.failed.Load(),
		CacheHits:         c.counters.cacheHits.Load(),
		CacheMisses:       c.counters.cacheMisses.Load(),
		CacheErrors:       c.counters.cacheErrors.Load(),
		LiveProbes:        c.counters.liveProbes.Load(),
		RateLimited:       c.counters.rateLimited.Load(),
		Timeouts:          c.counters.timeouts.Load(),
		CacheEnabled:      c.cache != nil,
		Platforms:         c.Platforms(),
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(lookups)
	}
	if s.PlatformResults > 0 {
		s.SuccessRate = float64(s.SuccessfulResults) / float64(s.PlatformResults)
	}
	if c.cache != nil {
		cs := c.cache.Stats()
		s.Cache = &cs
	}
	return s
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

type Health struct {
	Status    string            `json:"status"`
	Cache     string            `json:"cache"`
	Platforms []models.Platform `json:"platforms"`
}

// Health is degraded when the cache backend does not answer or no platform
// can be probed.
func (c *Checker) Health(ctx context.Context) Health {
	h := Health{Status: StatusHealthy, Cache: "disabled", Platforms: c.Platforms()}
	if c.cache != nil {
		h.Cache = "ok"
		if err := c.cache.Health(ctx); err != nil {
			h.Cache = err.Error()
			h.Status = StatusDegraded
		}
	}
	if len(h.Platforms) == 0 {
		h.Status = StatusDegraded
	}
	return h
}

// InvalidateCache drops the cached results of a number, for one platform or
// for all of them when platform is empty.
func (c *Checker) InvalidateCache(ctx context.Context, phoneNumber, countryCode string, platform models.Platform) error {
	if c.cache == nil {
		return ErrCacheDisabled
	}
	number, err := c.normalizer.Normalize(phoneNumber, countryCode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return c.cache.Invalidate(ctx, number.E164, platform)
}

func (c *Checker) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return ErrCacheDisabled
	}
	return c.cache.Clear(ctx)
}
