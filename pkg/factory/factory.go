// Package factory validates geolocation credentials and builds Geolocation
// services, either one shared instance or a set of independent ones with their
// own proxy pools.
package factory

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"geoproxy/pkg/geolocation"
	"geoproxy/pkg/logging"
	"geoproxy/pkg/metrics"
	"geoproxy/pkg/proxypool"
)

var (
	ErrMissingAPIKey   = geolocation.ErrMissingAPIKey
	ErrInvalidEndpoint = errors.New("api endpoint must be an absolute http(s) url")
	ErrInvalidPoolSize = errors.New("pool size must be positive")
)

// Options tune the services built by a Factory. Nil pointers keep the defaults.
type Options struct {
	// Proxy configures the proxy pool built for each service.
	Proxy *proxypool.Config
	// Pool is shared by the service instead of building a new one. Ignored by CreatePool.
	Pool *proxypool.Pool

	CacheExpiration *time.Duration
	MaxCacheSize    *int
	EnableCache     *bool

	SharedCache  geolocation.SharedCache
	Fallback     geolocation.Fallback
	Recorder     geolocation.Recorder
	ProxyOptions []proxypool.Option
}

// Factory builds geolocation services. The zero value is not usable; call New.
type Factory struct {
	root            *zap.Logger
	logger          *zap.Logger
	instrumentation *metrics.Instrumentation

	mu       sync.Mutex
	instance *geolocation.Service
}

// New returns a Factory. inst may be nil.
func New(logger *zap.Logger, inst *metrics.Instrumentation) *Factory {
	return &Factory{
		root:            logger,
		logger:          logging.Component(logger, "factory"),
		instrumentation: inst,
	}
}

// ValidateConfig checks that api carries a key and an absolute http(s) endpoint.
func ValidateConfig(api geolocation.API) error {
	if strings.TrimSpace(api.APIKey) == "" {
		return ErrMissingAPIKey
	}
	u, err := url.Parse(api.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, api.Endpoint)
	}
	return nil
}

// Create validates api and builds a new service.
func (f *Factory) Create(api geolocation.API, opts Options) (*geolocation.Service, error) {
	if err := ValidateConfig(api); err != nil {
		return nil, err
	}
	return f.build(api, opts, opts.Pool)
}

// CreatePool builds size independent services, each with its own proxy pool.
func (f *Factory) CreatePool(api geolocation.API, size int, opts Options) ([]*geolocation.Service, error) {
	if err := ValidateConfig(api); err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, size)
	}

	services := make([]*geolocation.Service, 0, size)
	for i := 0; i < size; i++ {
		s, err := f.build(api, opts, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create service %d of %d: %w", i+1, size, err)
		}
		services = append(services, s)
	}

	f.logger.Info("created service pool", zap.Int("size", size))
	return services, nil
}

// Instance returns the shared service, creating it on first use. Later calls
// return the existing instance and ignore their arguments until ResetInstance.
func (f *Factory) Instance(api geolocation.API, opts Options) (*geolocation.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.instance != nil {
		return f.instance, nil
	}
	s, err := f.Create(api, opts)
	if err != nil {
		return nil, err
	}
	f.instance = s
	return s, nil
}

// ResetInstance forgets the shared service.
func (f *Factory) ResetInstance() {
	f.mu.Lock()
	f.instance = nil
	f.mu.Unlock()
}

func (f *Factory) build(api geolocation.API, opts Options, pool *proxypool.Pool) (*geolocation.Service, error) {
	if pool == nil {
		var proxyCfg proxypool.Config
		if opts.Proxy != nil {
			proxyCfg = *opts.Proxy
		}
		proxyOpts := append([]proxypool.Option{
			proxypool.WithLogger(f.root),
			proxypool.WithInstrumentation(f.instrumentation),
		}, opts.ProxyOptions...)

		p, err := proxypool.New(proxyCfg, proxyOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy pool: %w", err)
		}
		pool = p
	}

	cfg := geolocation.Config{API: api, Pool: pool}
	if opts.CacheExpiration != nil {
		cfg.CacheExpiration = *opts.CacheExpiration
	}
	if opts.MaxCacheSize != nil {
		cfg.MaxCacheSize = *opts.MaxCacheSize
	}
	if opts.EnableCache != nil {
		cfg.CacheDisabled = !*opts.EnableCache
	}

	serviceOpts := []geolocation.Option{
		geolocation.WithLogger(f.root),
		geolocation.WithInstrumentation(f.instrumentation),
	}
	if opts.SharedCache != nil {
		serviceOpts = append(serviceOpts, geolocation.WithSharedCache(opts.SharedCache))
	}
	if opts.Fallback != nil {
		serviceOpts = append(serviceOpts, geolocation.WithFallback(opts.Fallback))
	}
	if opts.Recorder != nil {
		serviceOpts = append(serviceOpts, geolocation.WithRecorder(opts.Recorder))
	}

	return geolocation.New(cfg, serviceOpts...)
}
