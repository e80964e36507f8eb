package proxypool

import (
	"context"

	"geoproxy/pkg/fetch"
)

// FetchFunc performs one logical request. It has the shape of fetch.Fetch.
type FetchFunc func(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)

// Fetcher wraps fetch.Fetch with the pool's rotation and retry. opts.Transport
// and opts.RoundTripper are replaced by the selected endpoint on every attempt.
func (p *Pool) Fetcher() FetchFunc {
	return func(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error) {
		var result *fetch.Result
		err := p.execute(ctx, func(ctx context.Context, ep *Endpoint) error {
			attemptOpts := opts
			attemptOpts.Transport = ""
			attemptOpts.RoundTripper = ep.Transport

			r, err := fetch.Fetch(ctx, url, attemptOpts)
			if err != nil {
				return err
			}
			if !isSuccess(r.StatusCode()) {
				return &StatusError{StatusCode: r.StatusCode(), Status: r.Response.Status, Body: r.Body}
			}
			result = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
