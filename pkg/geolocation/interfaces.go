package geolocation

import (
	"context"
	"time"

	"geoproxy/pkg/models"
)

// SharedCache is an optional second cache tier shared between processes.
// Entries keep their original insertion time so expiry matches the in-memory tier.
type SharedCache interface {
	Get(ctx context.Context, account, key string) (result models.GeolocationResult, insertedAt time.Time, ok bool, err error)
	Set(ctx context.Context, account, key string, result models.GeolocationResult, insertedAt time.Time, ttl time.Duration) error
	ClearAccount(ctx context.Context, account string) error
	ClearAll(ctx context.Context) error
}

// Fallback resolves a request offline when the upstream lookup fails.
type Fallback interface {
	Resolve(ctx context.Context, req models.LookupRequest) (models.GeolocationResult, bool)
}

// Recorder persists successful live lookups.
type Recorder interface {
	Record(ctx context.Context, record *models.LookupRecord) error
}
