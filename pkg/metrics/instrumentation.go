package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OK       = "OK"
	ERROR    = "ERROR"
	FALLBACK = "FALLBACK"
	HIT      = "HIT"
	MISS     = "MISS"
	SHARED   = "SHARED_HIT"

	EvictSize    = "size"
	EvictExpired = "expired"
	EvictClear   = "clear"
)

// Instrumentation publishes Prometheus metrics for the proxy pool and the geolocation cache.
type Instrumentation struct {
	proxyAttempts   *prometheus.CounterVec
	proxyRetries    *prometheus.CounterVec
	proxyFailures   *prometheus.GaugeVec
	lookups         *prometheus.CounterVec
	lookupDuration  *prometheus.HistogramVec
	cacheRequests   *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	cacheEntries    *prometheus.GaugeVec
	batchWindows    prometheus.Counter
	degradedWindows prometheus.Counter
}

// NewInstrumentation registers all metric vectors.
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	inst := &Instrumentation{
		proxyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "proxy",
			Name:      "attempts_total",
			Help:      "Outbound attempts per proxy endpoint by result",
		}, []string{"host", "port", "result"}),
		proxyRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "proxy",
			Name:      "retries_total",
			Help:      "Retries issued against a different proxy endpoint",
		}, []string{"host"}),
		proxyFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geoproxy",
			Subsystem: "proxy",
			Name:      "consecutive_failures",
			Help:      "Current consecutive failure count per proxy endpoint",
		}, []string{"host", "port"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "geolocation",
			Name:      "lookups_total",
			Help:      "Geolocation lookups by account and result",
		}, []string{"account", "result"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoproxy",
			Subsystem: "geolocation",
			Name:      "upstream_duration_seconds",
			Help:      "Upstream lookup latency including proxy retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by account and outcome",
		}, []string{"account", "cache_result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache entries removed by reason",
		}, []string{"account", "reason"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geoproxy",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current cache entries per account",
		}, []string{"account"}),
		batchWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "geolocation",
			Name:      "batch_windows_total",
			Help:      "Batch windows processed",
		}),
		degradedWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoproxy",
			Subsystem: "geolocation",
			Name:      "batch_windows_degraded_total",
			Help:      "Batch windows that degraded to per-item failures",
		}),
	}

	reg.MustRegister(
		inst.proxyAttempts,
		inst.proxyRetries,
		inst.proxyFailures,
		inst.lookups,
		inst.lookupDuration,
		inst.cacheRequests,
		inst.cacheEvictions,
		inst.cacheEntries,
		inst.batchWindows,
		inst.degradedWindows,
	)
	return inst
}

// ObserveProxyAttempt records one attempt through a proxy endpoint.
func (i *Instrumentation) ObserveProxyAttempt(host string, port int, success bool) {
	if i == nil {
		return
	}
	result := ERROR
	if success {
		result = OK
	}
	i.proxyAttempts.WithLabelValues(host, strconv.Itoa(port), result).Inc()
}

// ObserveProxyRetry counts a retry against a newly selected endpoint.
func (i *Instrumentation) ObserveProxyRetry(host string) {
	if i == nil {
		return
	}
	i.proxyRetries.WithLabelValues(host).Inc()
}

// ObserveProxyFailures sets the consecutive failure gauge of an endpoint.
func (i *Instrumentation) ObserveProxyFailures(host string, port, failures int) {
	if i == nil {
		return
	}
	i.proxyFailures.WithLabelValues(host, strconv.Itoa(port)).Set(float64(failures))
}

// ObserveLookup counts a resolved lookup. result is OK, ERROR or FALLBACK.
func (i *Instrumentation) ObserveLookup(account, result string) {
	if i == nil {
		return
	}
	i.lookups.WithLabelValues(account, result).Inc()
}

// ObserveUpstream records the latency of a live upstream lookup.
func (i *Instrumentation) ObserveUpstream(success bool, duration time.Duration) {
	if i == nil {
		return
	}
	result := ERROR
	if success {
		result = OK
	}
	i.lookupDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveCacheHit records a lookup served from the in-memory cache.
func (i *Instrumentation) ObserveCacheHit(account string) {
	if i == nil {
		return
	}
	i.cacheRequests.WithLabelValues(account, HIT).Inc()
}

// ObserveSharedCacheHit records a lookup served from the shared second-tier cache.
func (i *Instrumentation) ObserveSharedCacheHit(account string) {
	if i == nil {
		return
	}
	i.cacheRequests.WithLabelValues(account, SHARED).Inc()
}

// ObserveCacheMiss records a cache lookup that missed.
func (i *Instrumentation) ObserveCacheMiss(account string) {
	if i == nil {
		return
	}
	i.cacheRequests.WithLabelValues(account, MISS).Inc()
}

// ObserveCacheEvictions adds n evictions for the given reason.
func (i *Instrumentation) ObserveCacheEvictions(account, reason string, n int) {
	if i == nil || n <= 0 {
		return
	}
	i.cacheEvictions.WithLabelValues(account, reason).Add(float64(n))
}

// ObserveCacheSize sets the current cache size gauge.
func (i *Instrumentation) ObserveCacheSize(account string, size int) {
	if i == nil {
		return
	}
	i.cacheEntries.WithLabelValues(account).Set(float64(size))
}

// ObserveBatchWindow counts a processed batch window.
func (i *Instrumentation) ObserveBatchWindow(degraded bool) {
	if i == nil {
		return
	}
	i.batchWindows.Inc()
	if degraded {
		i.degradedWindows.Inc()
	}
}
