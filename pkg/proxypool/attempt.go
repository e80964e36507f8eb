package proxypool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Attempt is the in-flight state of one logical request.
type Attempt struct {
	RequestID uuid.UUID
	Port      int
	Retry     int
}

type (
	attemptKey   struct{}
	requestIDKey struct{}
)

// WithRequestID binds the id used for the next logical request issued with ctx.
// Without it the pool generates a fresh id per request.
func WithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(requestIDKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.New()
}

// AttemptFromContext returns the attempt bound to ctx by the pool, if any.
func AttemptFromContext(ctx context.Context) (Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(Attempt)
	return a, ok
}

func withAttempt(ctx context.Context, a Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// execute runs call against rotating endpoints until it succeeds, retries are
// exhausted or ctx is done.
func (p *Pool) execute(ctx context.Context, call func(ctx context.Context, ep *Endpoint) error) error {
	attempt := Attempt{RequestID: requestID(ctx)}

	for {
		ep := p.Next()
		attempt.Port = ep.Port

		err := call(withAttempt(ctx, attempt), ep)
		if err == nil {
			p.MarkSuccessful(ep.Port)
			p.instrumentation.ObserveProxyAttempt(ep.Host, ep.Port, true)
			return nil
		}

		// The caller gave up, the endpoint is not at fault.
		if ctx.Err() != nil {
			return err
		}

		p.MarkFailed(ep.Port)
		p.instrumentation.ObserveProxyAttempt(ep.Host, ep.Port, false)

		if attempt.Retry >= p.cfg.MaxRetries {
			p.logger.Debug("retries exhausted",
				zap.String("request_id", attempt.RequestID.String()),
				zap.Int("attempts", attempt.Retry+1),
				zap.Error(err),
			)
			return err
		}

		p.logger.Debug("retrying with another endpoint",
			zap.String("request_id", attempt.RequestID.String()),
			zap.Int("failed_port", ep.Port),
			zap.Int("retry", attempt.Retry+1),
			zap.Error(err),
		)

		if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		attempt.Retry++
		p.instrumentation.ObserveProxyRetry(ep.Host)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
