package proxypool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"geoproxy/pkg/fetch"
)

func TestClientSuccess(t *testing.T) {
	relay := newFakeRelay()
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 3, RetryDelay: -1}, relay)
	client := p.Client(ClientConfig{
		Timeout: time.Second,
		Headers: http.Header{"Authorization": []string{"Bearer key"}},
	})

	resp, err := client.Get("http://geo.example/geolocation")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "port=1" {
		t.Errorf("body = %q, want %q", body, "port=1")
	}
	if got := resp.Header.Get("X-Auth"); got != "Bearer key" {
		t.Errorf("default header not applied, relay saw %q", got)
	}
	if got := relay.Calls(); !equalInts(got, []int{1}) {
		t.Errorf("relay calls = %v, want [1]", got)
	}
}

func TestClientRequestHeaderWins(t *testing.T) {
	relay := newFakeRelay()
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 1, RetryDelay: -1}, relay)
	client := p.Client(ClientConfig{Headers: http.Header{"Authorization": []string{"Bearer default"}}})

	req, _ := http.NewRequest(http.MethodGet, "http://geo.example/", nil)
	req.Header.Set("Authorization", "Bearer override")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Auth"); got != "Bearer override" {
		t.Errorf("relay saw %q, want the request header", got)
	}
}

func TestClientRetriesOnAnotherEndpoint(t *testing.T) {
	relay := newFakeRelay()
	relay.failing[1] = true
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 3, RetryDelay: -1}, relay)
	client := p.Client(ClientConfig{})

	resp, err := client.Post("http://geo.example/geolocation", "application/json", strings.NewReader(`{"ip":"8.8.8.8"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "port=2" {
		t.Errorf("body = %q, want %q", body, "port=2")
	}
	if got := relay.Calls(); !equalInts(got, []int{1, 2}) {
		t.Errorf("relay calls = %v, want [1 2]", got)
	}
	for i, b := range relay.bodies {
		if b != `{"ip":"8.8.8.8"}` {
			t.Errorf("attempt %d body = %q, want the replayed payload", i, b)
		}
	}

	first, second := relay.attempts[0], relay.attempts[1]
	if first.RequestID != second.RequestID {
		t.Errorf("attempts carry different request ids: %v vs %v", first.RequestID, second.RequestID)
	}
	if first.Retry != 0 || second.Retry != 1 {
		t.Errorf("retry counters = %d, %d, want 0, 1", first.Retry, second.Retry)
	}
	if first.Port != 1 || second.Port != 2 {
		t.Errorf("attempt ports = %d, %d, want 1, 2", first.Port, second.Port)
	}

	stats := p.Stats()
	if stats[0].FailureCount != 1 || stats[1].FailureCount != 0 {
		t.Errorf("failure counts = %d, %d, want 1, 0", stats[0].FailureCount, stats[1].FailureCount)
	}
}

func TestClientSuccessResetsFailures(t *testing.T) {
	relay := newFakeRelay()
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 1, RetryDelay: -1}, relay)
	p.MarkFailed(1)
	p.MarkFailed(1)

	resp, err := p.Client(ClientConfig{}).Get("http://geo.example/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got := p.Stats()[0].FailureCount; got != 0 {
		t.Errorf("FailureCount = %d, want 0", got)
	}
}

func TestClientExhaustsRetries(t *testing.T) {
	relay := newFakeRelay()
	for port := 1; port <= 3; port++ {
		relay.failing[port] = true
	}
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 3, MaxRetries: 2, RetryDelay: time.Millisecond}, relay)

	_, err := p.Client(ClientConfig{}).Get("http://geo.example/")
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if !strings.Contains(err.Error(), "relay down") {
		t.Errorf("error = %v, want the underlying relay error", err)
	}
	if got := relay.Calls(); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("relay calls = %v, want [1 2 3]", got)
	}
}

func TestClientStatusError(t *testing.T) {
	relay := newFakeRelay()
	relay.status[1] = http.StatusServiceUnavailable
	relay.status[2] = http.StatusServiceUnavailable
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 2, MaxRetries: 1, RetryDelay: -1}, relay)

	_, err := p.Client(ClientConfig{}).Get("http://geo.example/")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusServiceUnavailable)
	}
	if len(relay.Calls()) != 2 {
		t.Errorf("relay calls = %v, want 2 attempts", relay.Calls())
	}
}

func TestClientPerAttemptTimeout(t *testing.T) {
	relay := newFakeRelay()
	relay.hang[1] = true
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 2, RetryDelay: -1}, relay)

	resp, err := p.Client(ClientConfig{Timeout: 20 * time.Millisecond}).Get("http://geo.example/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "port=2" {
		t.Errorf("body = %q, want %q", body, "port=2")
	}
	if got := p.Stats()[0].FailureCount; got != 1 {
		t.Errorf("timed out endpoint FailureCount = %d, want 1", got)
	}
}

func TestFetcher(t *testing.T) {
	relay := newFakeRelay()
	relay.failing[1] = true
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 3, RetryDelay: -1}, relay)

	result, err := p.Fetcher()(context.Background(), "http://geo.example/", fetch.Options{
		Transport: "socks5://ignored:1",
		Headers:   []string{"Authorization: Bearer key"},
	})
	if err != nil {
		t.Fatalf("Fetcher() error = %v", err)
	}
	if string(result.Body) != "port=2" {
		t.Errorf("Body = %q, want %q", result.Body, "port=2")
	}
	if got := result.Response.Header.Get("X-Auth"); got != "Bearer key" {
		t.Errorf("relay saw Authorization %q", got)
	}
}

func TestFetcherAttemptsMaxRetriesPlusOne(t *testing.T) {
	relay := newFakeRelay()
	for port := 1; port <= 5; port++ {
		relay.status[port] = http.StatusBadGateway
	}
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 5, MaxRetries: 3, RetryDelay: -1}, relay)

	_, err := p.Fetcher()(context.Background(), "http://geo.example/", fetch.Options{})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("error = %v, want *StatusError with 502", err)
	}
	if got := relay.Calls(); !equalInts(got, []int{1, 2, 3, 4}) {
		t.Errorf("relay calls = %v, want [1 2 3 4]", got)
	}
}

func TestFetcherNoRetries(t *testing.T) {
	relay := newFakeRelay()
	relay.failing[1] = true
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 2, MaxRetries: -1}, relay)

	if _, err := p.Fetcher()(context.Background(), "http://geo.example/", fetch.Options{}); err == nil {
		t.Fatal("expected an error with retries disabled")
	}
	if got := relay.Calls(); !equalInts(got, []int{1}) {
		t.Errorf("relay calls = %v, want [1]", got)
	}
}

func TestFetcherCancelledDuringRetryDelay(t *testing.T) {
	relay := newFakeRelay()
	relay.failing[1] = true
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 2, RetryDelay: time.Hour}, relay)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Fetcher()(ctx, "http://geo.example/", fetch.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want %v", err, context.DeadlineExceeded)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry delay ignored the context")
	}
	if got := relay.Calls(); !equalInts(got, []int{1}) {
		t.Errorf("relay calls = %v, want [1]", got)
	}
}

func TestClientUsesContextRequestID(t *testing.T) {
	relay := newFakeRelay()
	p := newTestPool(t, Config{PortStart: 1, PortEnd: 1, RetryDelay: -1}, relay)

	id := uuid.New()
	req, _ := http.NewRequestWithContext(WithRequestID(context.Background(), id), http.MethodGet, "http://geo.example/", nil)
	resp, err := p.Client(ClientConfig{}).Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := relay.attempts[0].RequestID; got != id {
		t.Errorf("RequestID = %v, want %v", got, id)
	}
}
