package proxypool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Jigsaw-Code/outline-sdk/transport"
)

func TestProbeFailures(t *testing.T) {
	dialErr := errors.New("connection refused")
	pool := newTestPool(t, Config{PortStart: 1, PortEnd: 3}, newFakeRelay(),
		WithDialerFactory(func(proxyURL string) (transport.StreamDialer, error) {
			if strings.HasSuffix(proxyURL, ":3") {
				return nil, errors.New("unsupported scheme")
			}
			return transport.FuncStreamDialer(func(ctx context.Context, addr string) (transport.StreamConn, error) {
				return nil, dialErr
			}), nil
		}),
	)

	reports := pool.Probe(context.Background(), ProbeConfig{})
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i, report := range reports {
		if report.Port != i+1 {
			t.Errorf("report %d has port %d", i, report.Port)
		}
		if report.Success() {
			t.Errorf("expected port %d to fail", report.Port)
		}
	}
	if reports[2].Error.Op != "config" || reports[2].Error.Msg != "unsupported scheme" {
		t.Errorf("unexpected config error: %+v", reports[2].Error)
	}

	for _, s := range pool.Stats() {
		if s.FailureCount != 1 {
			t.Errorf("expected port %d to have 1 failure, got %d", s.Port, s.FailureCount)
		}
	}
}

func TestProbeConfigDefaults(t *testing.T) {
	cfg := ProbeConfig{}.withDefaults()
	if cfg.Resolver != DefaultProbeResolver || cfg.Domain != DefaultProbeDomain || cfg.Timeout != DefaultProbeTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFindBaseError(t *testing.T) {
	base := errors.New("i/o timeout")
	wrapped := fmt.Errorf("dial: %w", fmt.Errorf("socks5: %w", base))
	if got := findBaseError(wrapped); got != base {
		t.Errorf("findBaseError() = %v, want %v", got, base)
	}

	joined := errors.Join(errors.New("first"), wrapped)
	if got := findBaseError(joined); got != base {
		t.Errorf("findBaseError(joined) = %v, want %v", got, base)
	}
}
