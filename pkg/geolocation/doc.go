// Package geolocation resolves geolocation lookups through a proxy pool and caches
// successful results per account with a TTL and a bounded size.
//
// Lookups never return errors: a failed lookup is a GeolocationResult with
// Success false and only the requested IP echoed, so batches always report one
// result per request.
package geolocation
