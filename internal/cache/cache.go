// Package cache keeps probe outcomes per (normalized phone, platform) with a
// freshness score that decays linearly from 1 at write time to 0 at expiry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/HanTheDev/phone-checker/internal/models"
)

var (
	ErrNotFound    = errors.New("cache entry not found")
	ErrUnavailable = errors.New("cache backend unavailable")
)

// Store is the durable key-value backend under the SmartCache. Delete of a
// missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.CacheEntry, error)
}

// Pinger is implemented by stores that can report reachability cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	lockShards = 64
	// evictTarget is the fraction of a bound capacity eviction shrinks to.
	evictTarget = 0.8
)

type Options struct {
	MaxSizeBytes int64
	MaxEntries   int
	TTL          map[models.Platform]time.Duration
	DefaultTTL   time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type SmartCache struct {
	store Store
	opts  Options

	locks [lockShards]lockShard

	mu        sync.Mutex
	index     map[string]indexEntry
	sizeBytes int64

	evictMu sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	failures  atomic.Int64
}

// keyLock serializes operations on one key. refs counts holders and waiters
// so the lock can be dropped once nobody uses it.
type keyLock struct {
	sync.Mutex
	refs int
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type indexEntry struct {
	phone     string
	platform  models.Platform
	storedAt  time.Time
	expiresAt time.Time
	size      int64
}

type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Entries      int     `json:"entries"`
	SizeBytes    int64   `json:"size_bytes"`
	Evictions    int64   `json:"evictions"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	MaxSizeBytes int64   `json:"max_size_bytes"`
	MaxEntries   int     `json:"max_entries"`
}

type EntryInfo struct {
	Key       string          `json:"key"`
	Phone     string          `json:"phone"`
	Platform  models.Platform `json:"platform"`
	Freshness float64         `json:"freshness"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	SizeBytes int64           `json:"size_bytes"`
}

func New(store Store, opts Options) *SmartCache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	return &SmartCache{
		store: store,
		opts:  opts,
		index: make(map[string]indexEntry),
	}
}

// Freshness scores an entry at now: 1 when just written, 0 at or past expiry.
func Freshness(e *models.CacheEntry, now time.Time) float64 {
	ttl := e.ExpiresAt.Sub(e.StoredAt)
	if ttl <= 0 || !now.Before(e.ExpiresAt) {
		return 0
	}
	age := now.Sub(e.StoredAt)
	if age <= 0 {
		return 1
	}
	return 1 - float64(age)/float64(ttl)
}

func (c *SmartCache) TTL(platform models.Platform) time.Duration {
	if ttl, ok := c.opts.TTL[platform]; ok && ttl > 0 {
		return ttl
	}
	return c.opts.DefaultTTL
}

// Get returns the entry with its current freshness, or nil on a miss. Entries
// whose freshness has dropped to 0 are misses but stay stored until swept or
// evicted.
func (c *SmartCache) Get(ctx context.Context, phone string, platform models.Platform) (*models.CacheEntry, error) {
	key := models.CacheKey(phone, platform)
	unlock := c.lock(key)
	defer unlock()

	entry, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.misses.Add(1)
		c.forget(key)
		return nil, nil
	}
	if err != nil {
		c.misses.Add(1)
		c.failures.Add(1)
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}

	entry.Freshness = Freshness(entry, c.opts.Now())
	if entry.Freshness <= 0 {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return entry, nil
}

// Put replaces the whole entry for (phone, platform), then evicts the least
// fresh entries if a capacity bound is exceeded.
func (c *SmartCache) Put(ctx context.Context, phone string, platform models.Platform, exists bool, confidence float64) error {
	now := c.opts.Now()
	entry := &models.CacheEntry{
		Phone:      phone,
		Platform:   platform,
		Exists:     exists,
		Confidence: confidence,
		StoredAt:   now,
		ExpiresAt:  now.Add(c.TTL(platform)),
	}
	key := entry.Key()

	unlock := c.lock(key)
	if err := c.store.Put(ctx, entry); err != nil {
		unlock()
		c.failures.Add(1)
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	c.remember(entry)
	unlock()

	if c.overCapacity() {
		c.evict(ctx)
	}
	return nil
}

// Invalidate removes the entry for one platform, or for every platform when
// platform is empty.
func (c *SmartCache) Invalidate(ctx context.Context, phone string, platform models.Platform) error {
	var keys []string
	if platform != "" {
		keys = []string{models.CacheKey(phone, platform)}
	} else {
		seen := make(map[string]bool)
		c.mu.Lock()
		for key, ie := range c.index {
			if ie.phone == phone {
				keys = append(keys, key)
				seen[key] = true
			}
		}
		c.mu.Unlock()
		for _, p := range c.platforms() {
			if key := models.CacheKey(phone, p); !seen[key] {
				keys = append(keys, key)
				seen[key] = true
			}
		}
	}

	var errs []error
	for _, key := range keys {
		if err := c.delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *SmartCache) Stats() Stats {
	c.mu.Lock()
	entries, size := len(c.index), c.sizeBytes
	c.mu.Unlock()

	s := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Entries:      entries,
		SizeBytes:    size,
		Evictions:    c.evictions.Load(),
		Errors:       c.failures.Load(),
		MaxSizeBytes: c.opts.MaxSizeBytes,
		MaxEntries:   c.opts.MaxEntries,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Load rebuilds the index from the store and drops entries that expired
// while the process was down. It returns the number of live entries.
func (c *SmartCache) Load(ctx context.Context) (int, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	now := c.opts.Now()
	var expired []string
	for _, e := range entries {
		if !now.Before(e.ExpiresAt) {
			expired = append(expired, e.Key())
			continue
		}
		c.remember(e)
	}
	for _, key := range expired {
		if err := c.store.Delete(ctx, key); err != nil {
			c.opts.Logger.Warn("failed to drop expired cache entry", "key", key, "error", err)
		}
	}

	if c.overCapacity() {
		c.evict(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index), nil
}

// Sweep deletes every indexed entry whose freshness reached 0.
func (c *SmartCache) Sweep(ctx context.Context) (int, error) {
	now := c.opts.Now()
	var expired []string
	c.mu.Lock()
	for key, ie := range c.index {
		if !now.Before(ie.expiresAt) {
			expired = append(expired, key)
		}
	}
	c.mu.Unlock()

	var errs []error
	removed := 0
	for _, key := range expired {
		if err := c.delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// StartJanitor sweeps every interval until ctx is done.
func (c *SmartCache) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := c.Sweep(ctx)
				if err != nil {
					c.opts.Logger.Warn("cache sweep failed", "error", err)
				}
				if n > 0 {
					c.opts.Logger.Debug("cache sweep", "removed", n)
				}
			}
		}
	}()
}

// Clear removes every entry, including ones written by other processes
// sharing the store.
func (c *SmartCache) Clear(ctx context.Context) error {
	keys := make(map[string]bool)
	c.mu.Lock()
	for key := range c.index {
		keys[key] = true
	}
	c.mu.Unlock()

	entries, err := c.store.List(ctx)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	for _, e := range entries {
		keys[e.Key()] = true
	}

	var errs []error
	for key := range keys {
		if err := c.delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entries lists indexed entries, freshest first. limit <= 0 means all.
func (c *SmartCache) Entries(limit int) []EntryInfo {
	now := c.opts.Now()
	c.mu.Lock()
	out := make([]EntryInfo, 0, len(c.index))
	for key, ie := range c.index {
		out = append(out, EntryInfo{
			Key:       key,
			Phone:     ie.phone,
			Platform:  ie.platform,
			Freshness: ie.freshness(now),
			StoredAt:  ie.storedAt,
			ExpiresAt: ie.expiresAt,
			SizeBytes: ie.size,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Freshness != out[j].Freshness {
			return out[i].Freshness > out[j].Freshness
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Health reports whether the backend answers.
func (c *SmartCache) Health(ctx context.Context) error {
	p, ok := c.store.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// platforms lists every platform the cache may hold keys for, including ones
// only known through their TTL setting.
func (c *SmartCache) platforms() []models.Platform {
	out := append([]models.Platform{}, models.KnownPlatforms...)
	for p := range c.opts.TTL {
		out = append(out, p)
	}
	return out
}

// lock takes the lock of key and returns its release. Only operations on the
// same key wait on each other; the shard mutex is held just long enough to
// find the key's lock, never across store I/O.
func (c *SmartCache) lock(key string) func() {
	shard := &c.locks[xxhash.Sum64String(key)%lockShards]

	shard.mu.Lock()
	if shard.locks == nil {
		shard.locks = make(map[string]*keyLock)
	}
	kl, ok := shard.locks[key]
	if !ok {
		kl = &keyLock{}
		shard.locks[key] = kl
	}
	kl.refs++
	shard.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		shard.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(shard.locks, key)
		}
		shard.mu.Unlock()
	}
}

func (c *SmartCache) delete(ctx context.Context, key string) error {
	unlock := c.lock(key)
	defer unlock()

	if err := c.store.Delete(ctx, key); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	c.forget(key)
	return nil
}

func (c *SmartCache) remember(e *models.CacheEntry) {
	ie := indexEntry{
		phone:     e.Phone,
		platform:  e.Platform,
		storedAt:  e.StoredAt,
		expiresAt: e.ExpiresAt,
		size:      entrySize(e),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.index[e.Key()]; ok {
		c.sizeBytes -= old.size
	}
	c.index[e.Key()] = ie
	c.sizeBytes += ie.size
}

func (c *SmartCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.index[key]; ok {
		c.sizeBytes -= old.size
		delete(c.index, key)
	}
}

func (c *SmartCache) overCapacity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.opts.MaxSizeBytes > 0 && c.sizeBytes > c.opts.MaxSizeBytes) ||
		(c.opts.MaxEntries > 0 && len(c.index) > c.opts.MaxEntries)
}

// evict removes the least fresh entries until both bounds are back under
// evictTarget of their limit. Only one eviction runs at a time.
func (c *SmartCache) evict(ctx context.Context) {
	if !c.evictMu.TryLock() {
		return
	}
	defer c.evictMu.Unlock()

	now := c.opts.Now()
	type candidate struct {
		key       string
		freshness float64
		storedAt  time.Time
		size      int64
	}

	c.mu.Lock()
	candidates := make([]candidate, 0, len(c.index))
	for key, ie := range c.index {
		candidates = append(candidates, candidate{key, ie.freshness(now), ie.storedAt, ie.size})
	}
	size, count := c.sizeBytes, len(c.index)
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].freshness != candidates[j].freshness {
			return candidates[i].freshness < candidates[j].freshness
		}
		return candidates[i].storedAt.Before(candidates[j].storedAt)
	})

	targetSize := int64(float64(c.opts.MaxSizeBytes) * evictTarget)
	targetCount := int(float64(c.opts.MaxEntries) * evictTarget)
	for _, cand := range candidates {
		sizeOK := c.opts.MaxSizeBytes <= 0 || size <= targetSize
		countOK := c.opts.MaxEntries <= 0 || count <= targetCount
		if sizeOK && countOK {
			break
		}
		if err := c.delete(ctx, cand.key); err != nil {
			c.opts.Logger.Warn("cache eviction failed", "key", cand.key, "error", err)
			continue
		}
		c.evictions.Add(1)
		size -= cand.size
		count--
	}
}

func (ie indexEntry) freshness(now time.Time) float64 {
	return Freshness(&models.CacheEntry{StoredAt: ie.storedAt, ExpiresAt: ie.expiresAt}, now)
}

func entrySize(e *models.CacheEntry) int64 {
	data, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
