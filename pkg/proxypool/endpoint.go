package proxypool

import (
	"net/http"
	"time"

	"geoproxy/pkg/config"
	"geoproxy/pkg/fetch"
)

// Endpoint is one proxy relay. Host, Port, URL and Transport are fixed at
// construction; the accounting fields are owned by the pool mutex.
type Endpoint struct {
	Host      string
	Port      int
	URL       string
	Transport http.RoundTripper

	lastUsed time.Time
	failures int
}

// TransportFactory builds the round tripper for one proxy URL.
type TransportFactory func(proxyURL string) (http.RoundTripper, error)

// DefaultTransportFactory dials through the outline-sdk dialer for proxyURL.
func DefaultTransportFactory(proxyURL string) (http.RoundTripper, error) {
	transport, err := fetch.NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return transport, nil
}

func newEndpoint(cfg Config, port int, factory TransportFactory) (*Endpoint, error) {
	u := config.ProxyURL{
		Scheme:   cfg.Scheme,
		Host:     cfg.Host,
		Port:     port,
		Username: cfg.Username,
		Password: cfg.Password,
		Method:   cfg.Method,
		Prefix:   cfg.Prefix,
	}
	proxyURL, err := u.Build()
	if err != nil {
		return nil, err
	}

	transport, err := factory(proxyURL)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		Host:      cfg.Host,
		Port:      port,
		URL:       proxyURL,
		Transport: transport,
	}, nil
}

func (e *Endpoint) stats() EndpointStats {
	return EndpointStats{
		Port:         e.Port,
		LastUsed:     e.lastUsed,
		FailureCount: e.failures,
		Healthy:      e.failures < UnhealthyThreshold,
	}
}
