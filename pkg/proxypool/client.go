package proxypool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig is the base configuration of clients built by Client.
type ClientConfig struct {
	// Timeout bounds each attempt, including the response body read.
	Timeout time.Duration
	// Headers are added to every request that does not already set them.
	Headers http.Header
}

// Client returns an *http.Client that routes every request through the pool.
// Response bodies are fully buffered by the time Do returns.
func (p *Pool) Client(base ClientConfig) *http.Client {
	return &http.Client{
		Transport: &rotatingTransport{
			pool:    p,
			timeout: base.Timeout,
			headers: base.Headers.Clone(),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type rotatingTransport struct {
	pool    *Pool
	timeout time.Duration
	headers http.Header
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		payload = b
	}

	var resp *http.Response
	err := t.pool.execute(req.Context(), func(ctx context.Context, ep *Endpoint) error {
		r, err := t.attempt(ctx, req, payload, ep)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *rotatingTransport) attempt(ctx context.Context, req *http.Request, payload []byte, ep *Endpoint) (*http.Response, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out := req.Clone(ctx)
	if payload != nil {
		out.Body = io.NopCloser(bytes.NewReader(payload))
		out.ContentLength = int64(len(payload))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	for name, values := range t.headers {
		if out.Header.Get(name) != "" {
			continue
		}
		for _, value := range values {
			out.Header.Add(name, value)
		}
	}

	resp, err := ep.Transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read of response body failed: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Request = req
	return resp, nil
}
