package proxypool

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/dns"
	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"github.com/Jigsaw-Code/outline-sdk/x/connectivity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeResolver = "8.8.8.8"
	DefaultProbeDomain   = "example.com"
	DefaultProbeTimeout  = 10 * time.Second

	probeConcurrency = 4
)

// DialerFactory builds the stream dialer for one proxy URL.
type DialerFactory func(proxyURL string) (transport.StreamDialer, error)

// DefaultDialerFactory resolves proxyURL with the outline-sdk configurl dialers.
func DefaultDialerFactory(proxyURL string) (transport.StreamDialer, error) {
	return configurl.NewDefaultConfigToDialer().NewStreamDialer(proxyURL)
}

// ProbeConfig selects the DNS-over-TCP query sent through each endpoint.
type ProbeConfig struct {
	Resolver string
	Domain   string
	Timeout  time.Duration
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.Resolver == "" {
		c.Resolver = DefaultProbeResolver
	}
	if c.Domain == "" {
		c.Domain = DefaultProbeDomain
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	return c
}

// ProbeReport is the outcome of probing one endpoint.
type ProbeReport struct {
	Port     int           `json:"port" yaml:"port"`
	Time     time.Time     `json:"time" yaml:"time"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    *ProbeError   `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r ProbeReport) Success() bool {
	return r.Error == nil
}

type ProbeError struct {
	Op string `json:"op,omitempty" yaml:"op,omitempty"`
	// Posix error, when available
	PosixError string `json:"posixError,omitempty" yaml:"posix_error,omitempty"`
	Msg        string `json:"msg,omitempty" yaml:"msg,omitempty"`
	MsgVerbose string `json:"msgVerbose,omitempty" yaml:"msg_verbose,omitempty"`
}

func newProbeError(op, posixError string, err error) *ProbeError {
	return &ProbeError{
		Op:         op,
		PosixError: posixError,
		Msg:        findBaseError(err).Error(),
		MsgVerbose: err.Error(),
	}
}

// findBaseError unwraps an error chain to find the most basic underlying error
func findBaseError(err error) error {
	for err != nil {
		// joined errors: the last one is the most specific
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			if errs := joined.Unwrap(); len(errs) > 0 {
				err = errs[len(errs)-1]
				continue
			}
		}

		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return err
}

// Probe resolves cfg.Domain through every endpoint with a DNS query over TCP
// and updates the failure counts with the outcome. Reports are returned in
// registration order.
func (p *Pool) Probe(ctx context.Context, cfg ProbeConfig) []ProbeReport {
	cfg = cfg.withDefaults()
	resolverAddress := net.JoinHostPort(cfg.Resolver, "53")

	reports := make([]ProbeReport, len(p.endpoints))
	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, ep := range p.endpoints {
		g.Go(func() error {
			reports[i] = p.probeEndpoint(ctx, ep, resolverAddress, cfg)
			return nil
		})
	}
	_ = g.Wait()

	for _, report := range reports {
		if ctx.Err() != nil {
			break
		}
		if report.Success() {
			p.MarkSuccessful(report.Port)
		} else {
			p.MarkFailed(report.Port)
		}
	}
	return reports
}

func (p *Pool) probeEndpoint(ctx context.Context, ep *Endpoint, resolverAddress string, cfg ProbeConfig) ProbeReport {
	report := ProbeReport{Port: ep.Port, Time: p.now().UTC().Truncate(time.Second)}
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		p.instrumentation.ObserveProxyAttempt(ep.Host, ep.Port, report.Success())
		p.logger.Debug("probe finished",
			zap.Int("port", ep.Port),
			zap.Bool("success", report.Success()),
			zap.Duration("duration", report.Duration),
		)
	}()

	dialer, err := p.dialerFactory(ep.URL)
	if err != nil {
		report.Error = newProbeError("config", "", err)
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	resolver := dns.NewTCPResolver(dialer, resolverAddress)
	result, err := connectivity.TestConnectivityWithResolver(ctx, resolver, cfg.Domain)
	if err != nil {
		report.Error = newProbeError("test", "", err)
		return report
	}
	if result != nil {
		report.Error = newProbeError(result.Op, result.PosixError, result.Err)
	}
	return report
}
