package factory

import "time"

// CacheSettings is a recommended cache configuration.
type CacheSettings struct {
	CacheExpiration time.Duration `json:"cacheExpiration" yaml:"cache_expiration"`
	MaxCacheSize    int           `json:"maxCacheSize" yaml:"max_cache_size"`
}

// RecommendedCacheSettings maps an expected daily request volume to cache settings.
// Busy accounts get a shorter TTL and a larger cache.
func RecommendedCacheSettings(dailyVolume int) CacheSettings {
	switch {
	case dailyVolume > 10000:
		return CacheSettings{CacheExpiration: 6 * time.Hour, MaxCacheSize: 5000}
	case dailyVolume > 1000:
		return CacheSettings{CacheExpiration: 12 * time.Hour, MaxCacheSize: 2000}
	default:
		return CacheSettings{CacheExpiration: 24 * time.Hour, MaxCacheSize: 1000}
	}
}
