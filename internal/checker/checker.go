// Package checker fans a phone check out to every requested platform,
// serving fresh answers from the cache, pacing live probes through the rate
// limiter and assembling one result per platform under the request deadline.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/confidence"
	"github.com/HanTheDev/phone-checker/internal/config"
	"github.com/HanTheDev/phone-checker/internal/logging"
	"github.com/HanTheDev/phone-checker/internal/metrics"
	"github.com/HanTheDev/phone-checker/internal/models"
	"github.com/HanTheDev/phone-checker/internal/phone"
	"github.com/HanTheDev/phone-checker/internal/probe"
	"github.com/HanTheDev/phone-checker/internal/ratelimit"
)

var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrNoPlatforms   = errors.New("no platforms requested")
	ErrCacheDisabled = errors.New("cache is disabled")
)

// cacheWriteTimeout bounds a cache write that outlives the check deadline.
const cacheWriteTimeout = 2 * time.Second

// Cache is the part of cache.SmartCache the checker uses.
type Cache interface {
	Get(ctx context.Context, phone string, platform models.Platform) (*models.CacheEntry, error)
	Put(ctx context.Context, phone string, platform models.Platform, exists bool, confidence float64) error
	Invalidate(ctx context.Context, phone string, platform models.Platform) error
	Clear(ctx context.Context) error
	Health(ctx context.Context) error
	Stats() cache.Stats
}

// Probers resolves the prober of a platform.
type Probers interface {
	Get(platform models.Platform) (probe.Prober, bool)
}

type Request struct {
	Phone        string
	CountryCode  string
	Platforms    []models.Platform
	ForceRefresh bool
	// Caller identifies who asked, for logs. Empty for local runs.
	Caller string
	// Timeout is the deadline of the whole check. Zero means the configured default.
	Timeout time.Duration
}

type Checker struct {
	cfg        *config.Config
	normalizer phone.Normalizer
	probers    Probers
	limiter    ratelimit.Limiter

	cache   Cache
	scorer  *confidence.Scorer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	sem    *semaphore.Weighted
	flight singleflight.Group

	counters counters
}

type counters struct {
	checks      atomic.Int64
	results     atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	cacheErrors atomic.Int64
	liveProbes  atomic.Int64
	rateLimited atomic.Int64
	timeouts    atomic.Int64
}

type Option func(*Checker)

// WithCache enables result caching. Without it every check probes live.
func WithCache(c Cache) Option {
	return func(ch *Checker) { ch.cache = c }
}

func WithScorer(s *confidence.Scorer) Option {
	return func(ch *Checker) { ch.scorer = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ch *Checker) { ch.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(ch *Checker) { ch.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(ch *Checker) { ch.now = now }
}

func New(cfg *config.Config, normalizer phone.Normalizer, probers Probers, limiter ratelimit.Limiter, opts ...Option) *Checker {
	c := &Checker{
		cfg:        cfg,
		normalizer: normalizer,
		probers:    probers,
		limiter:    limiter,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scorer == nil {
		c.scorer = confidence.NewScorer()
	}
	maxProbes := cfg.MaxConcurrentProbes
	if maxProbes <= 0 {
		maxProbes = 16
	}
	c.sem = semaphore.NewWeighted(int64(maxProbes))
	return c
}

// Platforms lists the enabled platforms that have a prober.
func (c *Checker) Platforms() []models.Platform {
	var out []models.Platform
	for _, p := range c.cfg.EnabledPlatforms() {
		if _, ok := c.probers.Get(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// Check runs one request. Per-platform failures are reported inside the
// response; only an invalid number or an empty platform set fail the call.
func (c *Checker) Check(ctx context.Context, req Request) (*models.CheckResponse, error) {
	start := c.now()

	number, err := c.normalizer.Normalize(req.Phone, req.CountryCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	platforms := dedupe(req.Platforms)
	if len(platforms) == 0 {
		return nil, ErrNoPlatforms
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	preq := models.PhoneRequest{
		RequestID:    uuid.New(),
		Number:       number,
		Platforms:    platforms,
		ForceRefresh: req.ForceRefresh,
		Timeout:      timeout,
	}
	log := c.logger.With("request_id", preq.RequestID, "phone", logging.AnonymizePhone(number.E164))
	if req.Caller != "" {
		log = log.With("caller", req.Caller)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	units := make([]chan models.PlatformResult, len(platforms))
	for i, p := range platforms {
		units[i] = make(chan models.PlatformResult, 1)
		go func(ch chan<- models.PlatformResult) {
			ch <- c.checkPlatform(ctx, preq, p, log)
		}(units[i])
	}

	results := make([]models.PlatformResult, len(platforms))
	for i, ch := range units {
		select {
		case r := <-ch:
			results[i] = r
		case <-ctx.Done():
			select {
			case r := <-ch:
				results[i] = r
			default:
				log.Warn("platform check abandoned at deadline", "platform", platforms[i])
				results[i] = c.failure(platforms[i], models.ErrorTimeout, "check deadline exceeded")
			}
		}
	}

	resp := &models.CheckResponse{
		Request:   preq,
		Results:   results,
		Summary:   models.Summarize(results),
		TotalTime: c.now().Sub(start),
	}
	c.record(resp)
	log.Info("check completed",
		"platforms", len(platforms),
		"outcome", resp.Summary.Outcome,
		"found", len(resp.Summary.PlatformsFound),
		"errors", resp.Summary.FailedChecks,
		"duration", resp.TotalTime,
	)
	return resp, nil
}

// BatchItem is the outcome of one request of CheckMany.
type BatchItem struct {
	Response *models.CheckResponse
	Err      error
}

// CheckMany runs requests with at most concurrency checks in flight. A
// failing request never stops the others.
func (c *Checker) CheckMany(ctx context.Context, reqs []Request, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = 3
	}
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := c.Check(ctx, req)
			items[i] = BatchItem{Response: resp, Err: err}
			return nil
		})
	}
	g.Wait()
	return items
}

func (c *Checker) checkPlatform(ctx context.Context, preq models.PhoneRequest, p models.Platform, log *slog.Logger) models.PlatformResult {
	pc, configured := c.cfg.Platforms[p]
	if !configured || !pc.Enabled {
		return c.failure(p, models.ErrorProbeFailure, "platform disabled")
	}
	prober, ok := c.probers.Get(p)
	if !ok {
		return c.failure(p, models.ErrorProbeFailure, "no prober registered")
	}

	phoneKey := preq.Number.E164
	if preq.ForceRefresh || c.cache == nil {
		return c.live(ctx, c.waitLimit(ctx), preq.Number, p, pc, prober, log)
	}

	if r, hit := c.lookup(ctx, phoneKey, p, pc, log); hit {
		return r
	}

	// Concurrent checks of the same number share one live probe. The probe
	// runs detached from the caller that started it, so that caller's
	// cancellation never reaches the others; each caller still waits only as
	// long as its own deadline allows.
	led := false
	ch := c.flight.DoChan(models.CacheKey(phoneKey, p), func() (any, error) {
		led = true
		fctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), c.sharedDeadline(ctx, pc))
		defer cancel()
		return c.live(fctx, c.waitLimit(ctx), preq.Number, p, pc, prober, log), nil
	})
	select {
	case res := <-ch:
		r := res.Val.(models.PlatformResult)
		// A result shaped by the leader's shorter deadline is redone under
		// this caller's own deadline.
		if !led && ctx.Err() == nil && (r.ErrorKind == models.ErrorTimeout || r.ErrorKind == models.ErrorRateLimited) {
			log.Debug("shared probe gave up early, probing again", "platform", p, "kind", r.ErrorKind)
			return c.live(ctx, c.waitLimit(ctx), preq.Number, p, pc, prober, log)
		}
		return r
	case <-ctx.Done():
		return c.failure(p, models.ErrorTimeout, "check deadline exceeded")
	}
}

// waitLimit is the latest time a rate limit wait may end for ctx.
func (c *Checker) waitLimit(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return c.now().Add(c.cfg.DefaultTimeout)
}

// sharedDeadline bounds a shared probe: the starting caller's deadline, but
// never less than the default check timeout or the platform probe timeout.
func (c *Checker) sharedDeadline(ctx context.Context, pc config.PlatformConfig) time.Time {
	deadline := c.waitLimit(ctx)
	now := c.now()
	for _, d := range []time.Duration{c.cfg.DefaultTimeout, pc.ProbeTimeout} {
		if t := now.Add(d); t.After(deadline) {
			deadline = t
		}
	}
	return deadline
}

func (c *Checker) lookup(ctx context.Context, phoneKey string, p models.Platform, pc config.PlatformConfig, log *slog.Logger) (models.PlatformResult, bool) {
	entry, err := c.cache.Get(ctx, phoneKey, p)
	if err != nil {
		c.counters.cacheErrors.Add(1)
		c.metrics.ObserveCacheLookup(p, "error")
		log.Warn("cache lookup failed, probing live", "platform", p, "kind", models.ErrorCacheUnavailable, "error", err)
		return models.PlatformResult{}, false
	}
	if entry == nil || entry.Freshness < pc.MinFreshness {
		c.counters.cacheMisses.Add(1)
		c.metrics.ObserveCacheLookup(p, "miss")
		return models.PlatformResult{}, false
	}

	c.counters.cacheHits.Add(1)
	c.metrics.ObserveCacheLookup(p, "hit")
	return models.PlatformResult{
		Platform:   p,
		Exists:     entry.Exists,
		Confidence: entry.Confidence,
		CheckedAt:  entry.StoredAt,
		FromCache:  true,
		Freshness:  entry.Freshness,
	}, true
}

// live admits, probes and caches one platform. A rate limit slot later than
// waitBy is reported as rate_limited. The probe is never retried here;
// retries belong to the adapter.
func (c *Checker) live(ctx context.Context, waitBy time.Time, number models.PhoneNumber, p models.Platform, pc config.PlatformConfig, prober probe.Prober, log *slog.Logger) models.PlatformResult {
	dec := c.limiter.Admit(ctx, p)
	c.metrics.ObserveAdmission(p, dec.Verdict.String())

	switch dec.Verdict {
	case ratelimit.Denied:
		return c.failure(p, models.ErrorRateLimited, "rate limit budget exhausted")
	case ratelimit.WaitUntil:
		if dec.At.After(waitBy) {
			dec.Cancel()
			return c.failure(p, models.ErrorRateLimited, fmt.Sprintf("next slot at %s is past the deadline", dec.At.Format(time.RFC3339)))
		}
		log.Debug("waiting for rate limit slot", "platform", p, "until", dec.At)
		if err := c.sleepUntil(ctx, dec.At); err != nil {
			dec.Cancel()
			return c.failure(p, models.ErrorTimeout, "deadline exceeded waiting for rate limit slot")
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		dec.Cancel()
		return c.failure(p, models.ErrorTimeout, "deadline exceeded waiting for a probe slot")
	}
	defer c.sem.Release(1)

	pctx := ctx
	if pc.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, pc.ProbeTimeout)
		defer cancel()
	}

	c.counters.liveProbes.Add(1)
	res, err := prober.Probe(pctx, number)
	c.metrics.ObserveProbe(p, res.ResponseTime)
	if err != nil {
		kind := probe.KindOf(err)
		c.scorer.Record(p, false, kind == models.ErrorTimeout)
		log.Warn("probe failed", "platform", p, "kind", kind, "error", err)
		r := c.failure(p, kind, err.Error())
		r.ResponseTime = res.ResponseTime
		return r
	}
	c.scorer.Record(p, true, false)

	if c.cache != nil {
		// The write must land even if the check deadline fires right after the probe.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
		if err := c.cache.Put(wctx, number.E164, p, res.Exists, res.Confidence); err != nil {
			c.counters.cacheErrors.Add(1)
			log.Warn("cache write failed", "platform", p, "kind", models.ErrorCacheUnavailable, "error", err)
		}
		cancel()
	}

	return models.PlatformResult{
		Platform:     p,
		Exists:       res.Exists,
		Confidence:   res.Confidence,
		CheckedAt:    c.now(),
		ResponseTime: res.ResponseTime,
		Metadata:     res.Metadata,
	}
}

func (c *Checker) sleepUntil(ctx context.Context, at time.Time) error {
	d := at.Sub(c.now())
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Checker) failure(p models.Platform, kind models.ErrorKind, msg string) models.PlatformResult {
	return models.PlatformResult{
		Platform:  p,
		CheckedAt: c.now(),
		ErrorKind: kind,
		Error:     msg,
	}
}

func (c *Checker) record(resp *models.CheckResponse) {
	c.counters.checks.Add(1)
	for _, r := range resp.Results {
		c.counters.results.Add(1)
		switch r.ErrorKind {
		case "":
			c.counters.successful.Add(1)
			continue
		case models.ErrorRateLimited:
			c.counters.rateLimited.Add(1)
		case models.ErrorTimeout:
			c.counters.timeouts.Add(1)
		}
		c.counters.failed.Add(1)
	}
	c.metrics.ObserveCheck(resp)
}

// dedupe keeps the first occurrence of every platform.
func dedupe(platforms []models.Platform) []models.Platform {
	seen := make(map[models.Platform]bool, len(platforms))
	out := make([]models.Platform, 0, len(platforms))
	for _, p := range platforms {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
