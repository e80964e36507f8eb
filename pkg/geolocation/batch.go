package geolocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geoproxy/pkg/models"
)

// BatchWindow is the number of lookups in flight at once during LookupBatch.
const BatchWindow = 5

// LookupBatch resolves reqs in sequential windows of BatchWindow concurrent
// lookups. The i-th result always corresponds to reqs[i].
func (s *Service) LookupBatch(ctx context.Context, account string, reqs []models.LookupRequest) []models.GeolocationResult {
	results := make([]models.GeolocationResult, len(reqs))

	for start := 0; start < len(reqs); start += BatchWindow {
		end := min(start+BatchWindow, len(reqs))
		done := make([]bool, end-start)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("lookup %d panicked: %v", i, r)
					}
				}()
				results[i] = s.Lookup(ctx, account, reqs[i])
				done[i-start] = true
				return nil
			})
		}

		err := g.Wait()
		if err != nil {
			s.logger.Warn("batch window degraded",
				zap.String("account", account),
				zap.Int("window_start", start),
				zap.Error(err),
			)
			for i := start; i < end; i++ {
				if !done[i-start] {
					results[i] = models.FailedResult(reqs[i])
				}
			}
		}
		s.instrumentation.ObserveBatchWindow(err != nil)
	}

	return results
}
