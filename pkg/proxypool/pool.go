package proxypool

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"geoproxy/pkg/logging"
	"geoproxy/pkg/metrics"
)

// Pool owns a fixed ring of proxy endpoints for one host.
type Pool struct {
	cfg       Config
	endpoints []*Endpoint
	byPort    map[int]*Endpoint

	mu   sync.Mutex
	used map[int]struct{}

	now              func() time.Time
	transportFactory TransportFactory
	dialerFactory    DialerFactory
	logger           *zap.Logger
	instrumentation  *metrics.Instrumentation
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now for LastUsed stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithTransportFactory replaces the outline-sdk transport used by each endpoint.
func WithTransportFactory(factory TransportFactory) Option {
	return func(p *Pool) {
		p.transportFactory = factory
	}
}

// WithDialerFactory replaces the stream dialer used by Probe.
func WithDialerFactory(factory DialerFactory) Option {
	return func(p *Pool) {
		p.dialerFactory = factory
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithInstrumentation(inst *metrics.Instrumentation) Option {
	return func(p *Pool) {
		p.instrumentation = inst
	}
}

// New builds one endpoint per port in the inclusive range of cfg.
func New(cfg Config, opts ...Option) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:              cfg,
		byPort:           make(map[int]*Endpoint, cfg.Size()),
		used:             make(map[int]struct{}, cfg.Size()),
		now:              time.Now,
		transportFactory: DefaultTransportFactory,
		dialerFactory:    DefaultDialerFactory,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.Component(p.logger, "proxypool").With(zap.String("host", cfg.Host))

	for port := cfg.PortStart; port <= cfg.PortEnd; port++ {
		ep, err := newEndpoint(cfg, port, p.transportFactory)
		if err != nil {
			return nil, fmt.Errorf("failed to create endpoint for port %d: %w", port, err)
		}
		p.endpoints = append(p.endpoints, ep)
		p.byPort[port] = ep
	}

	p.logger.Debug("proxy pool created",
		zap.Int("endpoints", len(p.endpoints)),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("retry_delay", cfg.RetryDelay),
	)
	return p, nil
}

// Next selects the endpoint for the next outbound call.
func (p *Pool) Next() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	var selected *Endpoint
	for _, ep := range p.endpoints {
		if _, ok := p.used[ep.Port]; !ok {
			selected = ep
			break
		}
	}

	if selected == nil {
		// Every endpoint was used this epoch, start a new one with the LRU endpoint.
		clear(p.used)
		for _, ep := range p.endpoints {
			if selected == nil || ep.lastUsed.Before(selected.lastUsed) {
				selected = ep
			}
		}
	}

	selected.lastUsed = p.now()
	p.used[selected.Port] = struct{}{}
	return selected
}

// MarkFailed increments the consecutive failure count of port.
func (p *Pool) MarkFailed(port int) {
	p.mu.Lock()
	ep, ok := p.byPort[port]
	if !ok {
		p.mu.Unlock()
		return
	}
	ep.failures++
	failures := ep.failures
	p.mu.Unlock()

	p.instrumentation.ObserveProxyFailures(p.cfg.Host, port, failures)
	p.logger.Warn("proxy endpoint failed",
		zap.Int("port", port),
		zap.Int("consecutive_failures", failures),
	)
}

// MarkSuccessful resets the consecutive failure count of port.
func (p *Pool) MarkSuccessful(port int) {
	p.mu.Lock()
	ep, ok := p.byPort[port]
	if ok {
		ep.failures = 0
	}
	p.mu.Unlock()

	if ok {
		p.instrumentation.ObserveProxyFailures(p.cfg.Host, port, 0)
	}
}

// HealthyEndpoints returns the endpoints below UnhealthyThreshold, in registration order.
func (p *Pool) HealthyEndpoints() []*Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.failures < UnhealthyThreshold {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}

func (p *Pool) Stats() []EndpointStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]EndpointStats, len(p.endpoints))
	for i, ep := range p.endpoints {
		stats[i] = ep.stats()
	}
	return stats
}

// ResetStats zeroes failures and LastUsed for every endpoint and starts a new epoch.
func (p *Pool) ResetStats() {
	p.mu.Lock()
	for _, ep := range p.endpoints {
		ep.failures = 0
		ep.lastUsed = time.Time{}
	}
	clear(p.used)
	p.mu.Unlock()

	for _, ep := range p.endpoints {
		p.instrumentation.ObserveProxyFailures(p.cfg.Host, ep.Port, 0)
	}
}

// Config returns the effective configuration, defaults applied.
func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) Size() int {
	return len(p.endpoints)
}
