package geolocation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor runs CleanupExpiredCache every interval until ctx is done.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.CleanupExpiredCache(); n > 0 {
				s.logger.Debug("expired cache entries removed", zap.Int("evicted", n))
			}
		}
	}
}
