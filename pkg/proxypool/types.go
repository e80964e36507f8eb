package proxypool

import (
	"errors"
	"fmt"
	"time"

	"geoproxy/pkg/config"
)

const (
	DefaultScheme     = config.SchemeSOCKS5
	DefaultHost       = "gate.smartproxy.com"
	DefaultPortStart  = 10001
	DefaultPortEnd    = 10010
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	// UnhealthyThreshold is the consecutive failure count at which an endpoint
	// drops out of HealthyEndpoints.
	UnhealthyThreshold = 3
)

var (
	ErrEmptyPortRange = errors.New("empty port range")
	ErrInvalidPort    = errors.New("port out of range")
)

// Config represents the configuration of a proxy pool. Zero values fall back to
// the package defaults; a negative MaxRetries disables retries and a negative
// RetryDelay retries immediately.
//
// Scheme selects the relay protocol, socks5 or ss. Shadowsocks relays take
// their cipher from Method and their key from Password; Username is ignored.
type Config struct {
	Scheme     string        `mapstructure:"scheme" json:"scheme" yaml:"scheme"`
	Host       string        `mapstructure:"host" json:"host" yaml:"host"`
	PortStart  int           `mapstructure:"port_start" json:"portStart" yaml:"port_start"`
	PortEnd    int           `mapstructure:"port_end" json:"portEnd" yaml:"port_end"`
	Username   string        `mapstructure:"username" json:"-" yaml:"-"`
	Password   string        `mapstructure:"password" json:"-" yaml:"-"`
	MaxRetries int           `mapstructure:"max_retries" json:"maxRetries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retryDelay" yaml:"retry_delay"`
	Method     string        `mapstructure:"method" json:"method,omitempty" yaml:"method,omitempty"`
	Prefix     string        `mapstructure:"prefix" json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Scheme:     DefaultScheme,
		Host:       DefaultHost,
		PortStart:  DefaultPortStart,
		PortEnd:    DefaultPortEnd,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.PortStart == 0 && c.PortEnd == 0 {
		c.PortStart = DefaultPortStart
		c.PortEnd = DefaultPortEnd
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	} else if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Validate checks the port range.
func (c Config) Validate() error {
	if c.PortStart > c.PortEnd {
		return fmt.Errorf("%w: start %d is after end %d", ErrEmptyPortRange, c.PortStart, c.PortEnd)
	}
	if c.PortStart < 1 || c.PortEnd > 65535 {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPort, c.PortStart, c.PortEnd)
	}
	return nil
}

// Size returns the number of endpoints the range describes.
func (c Config) Size() int {
	if c.PortStart > c.PortEnd {
		return 0
	}
	return c.PortEnd - c.PortStart + 1
}

// EndpointStats is a snapshot of one endpoint's accounting.
type EndpointStats struct {
	Port         int       `json:"port" yaml:"port"`
	LastUsed     time.Time `json:"lastUsed" yaml:"last_used"`
	FailureCount int       `json:"failureCount" yaml:"failure_count"`
	Healthy      bool      `json:"isHealthy" yaml:"healthy"`
}

// StatusError is returned when every attempt ended with a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("request failed with status %s", e.Status)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
