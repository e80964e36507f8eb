package geolocation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"geoproxy/pkg/metrics"
	"geoproxy/pkg/models"
)

type cacheEntry struct {
	result     models.GeolocationResult
	insertedAt time.Time
	seq        uint64
}

// accountCache holds the entries of one account. It is guarded by Service.cacheMu.
type accountCache struct {
	entries map[string]cacheEntry
}

func newAccountCache() *accountCache {
	return &accountCache{entries: make(map[string]cacheEntry)}
}

func expired(insertedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(insertedAt) >= ttl
}

// evictionCount is the number of entries dropped when inserting into a full cache:
// ten percent of maxSize, rounded up, at least one.
func evictionCount(maxSize int) int {
	n := (maxSize + 9) / 10
	if n < 1 {
		n = 1
	}
	return n
}

// evictOldest removes the n entries with the oldest insertion time and returns
// how many were removed.
func (c *accountCache) evictOldest(n int) int {
	if n <= 0 || len(c.entries) == 0 {
		return 0
	}

	type aged struct {
		key string
		cacheEntry
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, cacheEntry: e})
	}
	slices.SortFunc(all, func(a, b aged) int {
		if d := a.insertedAt.Compare(b.insertedAt); d != 0 {
			return d
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(c.entries, e.key)
	}
	return n
}

// removeExpired drops every expired entry and returns how many were removed.
func (c *accountCache) removeExpired(now time.Time, ttl time.Duration) int {
	removed := 0
	for k, e := range c.entries {
		if expired(e.insertedAt, now, ttl) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// AccountCacheStats describes the cache of one account.
type AccountCacheStats struct {
	Account string    `json:"account" yaml:"account"`
	Entries int       `json:"entries" yaml:"entries"`
	Oldest  time.Time `json:"oldest" yaml:"oldest"`
	Newest  time.Time `json:"newest" yaml:"newest"`
}

func (c *accountCache) stats(account string) AccountCacheStats {
	s := AccountCacheStats{Account: account, Entries: len(c.entries)}
	for _, e := range c.entries {
		if s.Oldest.IsZero() || e.insertedAt.Before(s.Oldest) {
			s.Oldest = e.insertedAt
		}
		if e.insertedAt.After(s.Newest) {
			s.Newest = e.insertedAt
		}
	}
	return s
}

func sortStats(stats []AccountCacheStats) {
	slices.SortFunc(stats, func(a, b AccountCacheStats) int {
		return strings.Compare(a.Account, b.Account)
	})
}

// cached returns a fresh entry from memory or, failing that, from the shared cache.
func (s *Service) cached(ctx context.Context, account, key string, gen uint64) (models.GeolocationResult, bool) {
	ttl := s.Config().CacheExpiration
	now := s.now()

	s.cacheMu.Lock()
	var (
		entry cacheEntry
		hit   bool
	)
	if c, ok := s.caches[account]; ok {
		if e, ok := c.entries[key]; ok {
			if expired(e.insertedAt, now, ttl) {
				delete(c.entries, key)
				s.instrumentation.ObserveCacheEvictions(account, metrics.EvictExpired, 1)
				s.observeSizeLocked(account)
			} else {
				entry, hit = e, true
			}
		}
	}
	s.cacheMu.Unlock()

	if hit {
		s.instrumentation.ObserveCacheHit(account)
		return markCached(entry.result, entry.insertedAt), true
	}

	if s.shared != nil {
		result, insertedAt, ok, err := s.shared.Get(ctx, account, key)
		if err != nil {
			s.logger.Warn("shared cache read failed", zap.String("account", account), zap.Error(err))
		} else if ok && !expired(insertedAt, now, ttl) {
			s.insert(account, key, result, insertedAt, gen)
			s.instrumentation.ObserveSharedCacheHit(account)
			return markCached(result, insertedAt), true
		}
	}

	s.instrumentation.ObserveCacheMiss(account)
	return models.GeolocationResult{}, false
}

func markCached(result models.GeolocationResult, insertedAt time.Time) models.GeolocationResult {
	ts := insertedAt
	result.Cached = true
	result.CacheTimestamp = &ts
	return result
}

func (s *Service) store(ctx context.Context, account, key string, result models.GeolocationResult, gen uint64) {
	insertedAt := s.now()
	if !s.insert(account, key, result, insertedAt, gen) {
		s.logger.Debug("dropped lookup result after cache clear or disable",
			zap.String("account", account),
			zap.String("key", key),
		)
		return
	}

	if s.shared != nil {
		if err := s.shared.Set(ctx, account, key, result, insertedAt, s.Config().CacheExpiration); err != nil {
			s.logger.Warn("shared cache write failed", zap.String("account", account), zap.Error(err))
		}
	}
}

// cacheGeneration returns the counter bumped by every cache clear. Lookups take it
// before reading the config so their results can be dropped if a clear happens
// while they are in flight.
func (s *Service) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// insert adds an entry, first evicting the oldest entries when the account cache is full.
// It reports false and stores nothing when the cache was cleared after gen was taken
// or caching is now disabled.
func (s *Service) insert(account, key string, result models.GeolocationResult, insertedAt time.Time, gen uint64) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	// UpdateConfig never holds s.mu while taking cacheMu.
	cfg := s.Config()
	if gen != s.gen || !cfg.CacheEnabled() {
		return false
	}
	maxSize := cfg.MaxCacheSize

	c, ok := s.caches[account]
	if !ok {
		c = newAccountCache()
		s.caches[account] = c
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= maxSize {
		evicted := c.evictOldest(evictionCount(maxSize))
		s.instrumentation.ObserveCacheEvictions(account, metrics.EvictSize, evicted)
		s.logger.Debug("evicted oldest cache entries",
			zap.String("account", account),
			zap.Int("evicted", evicted),
		)
	}

	s.seq++
	c.entries[key] = cacheEntry{result: result, insertedAt: insertedAt, seq: s.seq}
	s.observeSizeLocked(account)
	return true
}

func (s *Service) observeSizeLocked(account string) {
	size := 0
	if c, ok := s.caches[account]; ok {
		size = len(c.entries)
	}
	s.instrumentation.ObserveCacheSize(account, size)
}

// ClearAccountCache drops every cached entry of account.
func (s *Service) ClearAccountCache(ctx context.Context, account string) error {
	s.cacheMu.Lock()
	s.gen++
	if c, ok := s.caches[account]; ok {
		s.instrumentation.ObserveCacheEvictions(account, metrics.EvictClear, len(c.entries))
		delete(s.caches, account)
	}
	s.observeSizeLocked(account)
	s.cacheMu.Unlock()

	if s.shared != nil {
		if err := s.shared.ClearAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to clear shared cache for %s: %w", account, err)
		}
	}
	return nil
}

// ClearAllCache drops every cached entry of every account.
func (s *Service) ClearAllCache(ctx context.Context) error {
	s.clearLocal()

	if s.shared != nil {
		if err := s.shared.ClearAll(ctx); err != nil {
			return fmt.Errorf("failed to clear shared cache: %w", err)
		}
	}
	return nil
}

func (s *Service) clearLocal() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.gen++
	for account, c := range s.caches {
		s.instrumentation.ObserveCacheEvictions(account, metrics.EvictClear, len(c.entries))
		s.instrumentation.ObserveCacheSize(account, 0)
	}
	s.caches = make(map[string]*accountCache)
}

// CleanupExpiredCache evicts expired entries of every account, drops emptied
// account caches and returns the number of evicted entries.
func (s *Service) CleanupExpiredCache() int {
	ttl := s.Config().CacheExpiration
	now := s.now()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	total := 0
	for account, c := range s.caches {
		removed := c.removeExpired(now, ttl)
		total += removed
		s.instrumentation.ObserveCacheEvictions(account, metrics.EvictExpired, removed)
		if len(c.entries) == 0 {
			delete(s.caches, account)
		}
		s.observeSizeLocked(account)
	}
	return total
}

// CacheStats returns per-account entry counts and insertion time bounds, sorted by account.
func (s *Service) CacheStats() []AccountCacheStats {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	stats := make([]AccountCacheStats, 0, len(s.caches))
	for account, c := range s.caches {
		stats = append(stats, c.stats(account))
	}
	sortStats(stats)
	return stats
}
