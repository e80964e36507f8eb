package geolocation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoproxy/pkg/logging"
	"geoproxy/pkg/metrics"
	"geoproxy/pkg/models"
	"geoproxy/pkg/proxypool"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultCacheExpiration = 24 * time.Hour
	DefaultMaxCacheSize    = 1000

	// LookupPath is appended to the API endpoint for every lookup.
	LookupPath = "/geolocation"

	healthCheckIP      = "8.8.8.8"
	healthCheckAccount = "_health"
)

var (
	ErrMissingPool     = errors.New("proxy pool is required")
	ErrMissingEndpoint = errors.New("api endpoint is required")
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrInvalidCache    = errors.New("invalid cache settings")
)

// API holds the credentials of the upstream geolocation API.
type API struct {
	Endpoint string        `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	APIKey   string        `mapstructure:"api_key" json:"-" yaml:"-"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// Config configures a Service. Zero values fall back to the defaults; caching
// is on unless CacheDisabled is set.
type Config struct {
	API             API
	Pool            *proxypool.Pool
	CacheExpiration time.Duration
	MaxCacheSize    int
	CacheDisabled   bool
}

// CacheEnabled reports whether successful lookups are cached.
func (c Config) CacheEnabled() bool {
	return !c.CacheDisabled
}

func (c Config) withDefaults() Config {
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.CacheExpiration == 0 {
		c.CacheExpiration = DefaultCacheExpiration
	}
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = DefaultMaxCacheSize
	}
	return c
}

func (c Config) validate() error {
	if c.Pool == nil {
		return ErrMissingPool
	}
	if strings.TrimSpace(c.API.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if strings.TrimSpace(c.API.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.CacheExpiration < 0 || c.MaxCacheSize < 0 {
		return fmt.Errorf("%w: expiration %s, max size %d", ErrInvalidCache, c.CacheExpiration, c.MaxCacheSize)
	}
	return nil
}

// ConfigUpdate is a partial configuration; nil fields are left unchanged.
type ConfigUpdate struct {
	API             *API
	Pool            *proxypool.Pool
	CacheExpiration *time.Duration
	MaxCacheSize    *int
	EnableCache     *bool
}

// HealthStatus is the outcome of HealthCheck.
type HealthStatus struct {
	Healthy bool          `json:"healthy" yaml:"healthy"`
	Latency time.Duration `json:"latency" yaml:"latency"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Service resolves geolocation lookups through a proxy pool and caches them per account.
type Service struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client

	cacheMu sync.Mutex
	caches  map[string]*accountCache
	seq     uint64
	gen     uint64

	now             func() time.Time
	logger          *zap.Logger
	instrumentation *metrics.Instrumentation
	shared          SharedCache
	fallback        Fallback
	recorder        Recorder
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for cache timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithInstrumentation(inst *metrics.Instrumentation) Option {
	return func(s *Service) {
		s.instrumentation = inst
	}
}

// WithSharedCache adds a second cache tier consulted on in-memory misses.
func WithSharedCache(shared SharedCache) Option {
	return func(s *Service) {
		s.shared = shared
	}
}

// WithFallback adds a resolver used when the upstream lookup of an IP fails.
func WithFallback(fallback Fallback) Option {
	return func(s *Service) {
		s.fallback = fallback
	}
}

// WithRecorder journals every successful live lookup.
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// New creates a Service whose HTTP client is built by cfg.Pool.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid geolocation config: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		caches: make(map[string]*accountCache),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "geolocation")
	s.client = newClient(cfg)

	return s, nil
}

func newClient(cfg Config) *http.Client {
	return cfg.Pool.Client(proxypool.ClientConfig{
		Timeout: cfg.API.Timeout,
		Headers: http.Header{
			"Authorization": []string{"Bearer " + cfg.API.APIKey},
			"Content-Type":  []string{"application/json"},
			"Accept":        []string{"application/json"},
		},
	})
}

// Config returns the current configuration.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Pool returns the proxy pool currently backing the client.
func (s *Service) Pool() *proxypool.Pool {
	return s.Config().Pool
}

type lookupOptions struct {
	useCache      bool
	generation    uint64
	allowFallback bool
	record        bool
}

// Lookup resolves req for account. It never fails; see models.FailedResult.
func (s *Service) Lookup(ctx context.Context, account string, req models.LookupRequest) models.GeolocationResult {
	gen := s.cacheGeneration()
	result, _ := s.resolve(ctx, account, req, lookupOptions{
		useCache:      s.Config().CacheEnabled(),
		generation:    gen,
		allowFallback: true,
		record:        true,
	})
	return result
}

func (s *Service) resolve(ctx context.Context, account string, req models.LookupRequest, opts lookupOptions) (models.GeolocationResult, error) {
	key := CacheKey(req)

	if opts.useCache {
		if result, ok := s.cached(ctx, account, key, opts.generation); ok {
			return result, nil
		}
	}

	id := uuid.New()
	start := time.Now()
	result, err := s.fetch(proxypool.WithRequestID(ctx, id), req)
	s.instrumentation.ObserveUpstream(err == nil, time.Since(start))

	if err != nil {
		s.logger.Debug("geolocation lookup failed",
			zap.String("account", account),
			zap.String("key", key),
			zap.String("request_id", id.String()),
			zap.Error(err),
		)
		if opts.allowFallback && s.fallback != nil && req.IP != "" {
			if fb, ok := s.fallback.Resolve(ctx, req); ok {
				s.instrumentation.ObserveLookup(account, metrics.FALLBACK)
				return fb, nil
			}
		}
		s.instrumentation.ObserveLookup(account, metrics.ERROR)
		return models.FailedResult(req), err
	}

	result.Success = true
	result.Cached = false
	result.CacheTimestamp = nil
	if result.IP == "" {
		result.IP = req.IP
	}

	if opts.useCache {
		s.store(ctx, account, key, result, opts.generation)
	}
	if opts.record && s.recorder != nil {
		if err := s.recorder.Record(ctx, models.NewLookupRecord(id.String(), account, key, result)); err != nil {
			s.logger.Warn("failed to record lookup", zap.String("account", account), zap.Error(err))
		}
	}

	s.instrumentation.ObserveLookup(account, metrics.OK)
	return result, nil
}

func (s *Service) fetch(ctx context.Context, req models.LookupRequest) (models.GeolocationResult, error) {
	s.mu.RLock()
	client, endpoint := s.client, s.cfg.API.Endpoint
	s.mu.RUnlock()

	body, err := json.Marshal(req)
	if err != nil {
		return models.GeolocationResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+LookupPath, bytes.NewReader(body))
	if err != nil {
		return models.GeolocationResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return models.GeolocationResult{}, err
	}
	defer resp.Body.Close()

	var result models.GeolocationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.GeolocationResult{}, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	return result, nil
}

// HealthCheck performs one live lookup of a well-known IP, bypassing the cache.
func (s *Service) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	result, err := s.resolve(ctx, healthCheckAccount, models.LookupRequest{IP: healthCheckIP}, lookupOptions{})
	latency := time.Since(start)

	if err != nil {
		return HealthStatus{Healthy: false, Latency: latency, Error: err.Error()}
	}
	if !result.Success {
		return HealthStatus{Healthy: false, Latency: latency, Error: "lookup returned no result"}
	}
	return HealthStatus{Healthy: true, Latency: latency}
}

// UpdateConfig merges u into the current configuration. Shrinking the cache or
// disabling it clears every account; new credentials or a new pool rebuild the client.
func (s *Service) UpdateConfig(ctx context.Context, u ConfigUpdate) error {
	s.mu.Lock()
	old := s.cfg
	next := old
	if u.API != nil {
		next.API = *u.API
	}
	if u.Pool != nil {
		next.Pool = u.Pool
	}
	if u.CacheExpiration != nil {
		next.CacheExpiration = *u.CacheExpiration
	}
	if u.MaxCacheSize != nil {
		next.MaxCacheSize = *u.MaxCacheSize
	}
	if u.EnableCache != nil {
		next.CacheDisabled = !*u.EnableCache
	}
	next = next.withDefaults()
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid geolocation config: %w", err)
	}

	rebuild := next.API != old.API || next.Pool != old.Pool
	if rebuild {
		s.client = newClient(next)
	}
	s.cfg = next
	s.mu.Unlock()

	flush := next.MaxCacheSize < old.MaxCacheSize || (old.CacheEnabled() && !next.CacheEnabled())
	if flush {
		s.logger.Info("clearing cache after config update",
			zap.Int("max_cache_size", next.MaxCacheSize),
			zap.Bool("cache_enabled", next.CacheEnabled()),
		)
		if err := s.ClearAllCache(ctx); err != nil {
			return err
		}
	}
	if rebuild {
		s.logger.Info("rebuilt geolocation client", zap.String("endpoint", next.API.Endpoint))
	}
	return nil
}
