/*
Package models defines the data structures shared by the proxy pool, the geolocation
cache service and the lookup journal.

Core Types:

LookupRequest is the JSON body posted to the upstream geolocation API:

	type LookupRequest struct {
		IP        string   // IPv4/IPv6 address to resolve
		Domain    string   // hostname to resolve
		Latitude  *float64 // reverse lookup latitude
		Longitude *float64 // reverse lookup longitude
	}

GeolocationResult is the upstream response. Success, Cached and CacheTimestamp are
filled in locally:

	type GeolocationResult struct {
		IP, Country, CountryCode, Region, RegionCode, City, Zip string
		Latitude, Longitude                                     float64
		Timezone, ISP, Organization                             string
		AccuracyRadius                                          int
		Success                                                 bool       // false for any failed lookup
		Cached                                                  bool       // true when served from cache
		CacheTimestamp                                          *time.Time // insertion time of the cached entry
	}

LookupRecord is a bun model for the "lookups" table, written once per successful live
lookup when the journal is enabled.

Failure Shape:

A failed lookup is never an error. It is a GeolocationResult with Success=false, every
geographic field zero-valued and only the requested IP echoed back (see FailedResult).
Batches depend on this to report partial success.

Thread Safety:

The model structures are plain values and are not synchronized. The geolocation service
copies results in and out of its cache so callers never share a cached value.
*/
package models
