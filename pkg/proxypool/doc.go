/*
Package proxypool maintains a rotating set of SOCKS5 (or Shadowsocks) proxy endpoints for one upstream proxy
host and provides selection, retry and health accounting for outbound HTTP calls.

Key Components:

  - Pool: fixed ring of endpoints built from an inclusive port range
  - Endpoint: one (host, port) relay with its own outline-sdk backed transport
  - Client: *http.Client whose RoundTripper rotates endpoints and retries on failure
  - Fetcher: the same rotation and retry semantics around fetch.Fetch
  - Attempt: per logical request state (request id, chosen port, retry count) carried on the context
  - Probe: a DNS query over TCP sent through every endpoint, feeding the failure counts

Selection:

Next prefers endpoints not yet used in the current rotation epoch, scanning in registration
order. Once every endpoint has been used the epoch resets and the least recently used endpoint
is returned, ties broken by registration order. For a pool of three ports and no failures the
sequence is p1, p2, p3, p1.

Health:

MarkFailed and MarkSuccessful maintain a consecutive failure count per endpoint. HealthyEndpoints
lists endpoints with fewer than three consecutive failures. Health is advisory: Next never skips
an unhealthy endpoint, so a recovered relay gets traffic again without intervention. Callers that
need hard exclusion filter HealthyEndpoints themselves.

Retries:

Both Client and Fetcher attempt a logical request at most MaxRetries+1 times. Transport errors,
per-attempt timeouts and non-2xx responses are all failures; each failure marks the endpoint,
waits RetryDelay and picks a new endpoint. When retries run out the last error is returned; a
non-2xx exhaustion is reported as *StatusError. Context cancellation stops the sequence.

Usage Example:

	pool, err := proxypool.New(proxypool.Config{
		Host:      "gate.smartproxy.com",
		PortStart: 10001,
		PortEnd:   10010,
	}, proxypool.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	client := pool.Client(proxypool.ClientConfig{Timeout: 10 * time.Second})
	resp, err := client.Get("https://api.example.com/ip")

Thread Safety:

All pool state (the epoch set, timestamps and failure counters) is guarded by a single mutex.
A Pool, its clients and fetchers can be shared across goroutines.
*/
package proxypool
