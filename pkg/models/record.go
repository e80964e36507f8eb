package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LookupRecord is one successful live lookup persisted to the lookup journal.
type LookupRecord struct {
	bun.BaseModel `bun:"table:lookups,alias:l" json:"-" yaml:"-"`

	ID          int64     `bun:",pk,autoincrement"`
	RequestID   string    `bun:",notnull"`
	Account     string    `bun:",notnull"`
	CacheKey    string    `bun:",notnull"`
	IP          string
	Country     string
	CountryCode string
	Region      string
	City        string
	Latitude    float64
	Longitude   float64
	Timezone    string
	ISP         string
	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// NewLookupRecord copies the persisted subset of a result into a journal row.
func NewLookupRecord(requestID, account, cacheKey string, result GeolocationResult) *LookupRecord {
	return &LookupRecord{
		RequestID:   requestID,
		Account:     account,
		CacheKey:    cacheKey,
		IP:          result.IP,
		Country:     result.Country,
		CountryCode: result.CountryCode,
		Region:      result.Region,
		City:        result.City,
		Latitude:    result.Latitude,
		Longitude:   result.Longitude,
		Timezone:    result.Timezone,
		ISP:         result.ISP,
	}
}
