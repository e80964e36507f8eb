package models

import "time"

// LookupRequest is the body sent to the upstream geolocation API.
// At least one discriminator is expected; an empty request resolves the caller's own address.
type LookupRequest struct {
	IP        string   `json:"ip,omitempty" yaml:"ip,omitempty"`
	Domain    string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r LookupRequest) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// GeolocationResult is the upstream response plus the locally added cache markers.
type GeolocationResult struct {
	IP             string     `json:"ip" yaml:"ip"`
	Country        string     `json:"country" yaml:"country"`
	CountryCode    string     `json:"countryCode" yaml:"countryCode"`
	Region         string     `json:"region" yaml:"region"`
	RegionCode     string     `json:"regionCode" yaml:"regionCode"`
	City           string     `json:"city" yaml:"city"`
	Zip            string     `json:"zip" yaml:"zip"`
	Latitude       float64    `json:"latitude" yaml:"latitude"`
	Longitude      float64    `json:"longitude" yaml:"longitude"`
	Timezone       string     `json:"timezone" yaml:"timezone"`
	ISP            string     `json:"isp" yaml:"isp"`
	Organization   string     `json:"organization" yaml:"organization"`
	AccuracyRadius int        `json:"accuracyRadius" yaml:"accuracyRadius"`
	Success        bool       `json:"success" yaml:"success"`
	Cached         bool       `json:"cached" yaml:"cached"`
	CacheTimestamp *time.Time `json:"cacheTimestamp,omitempty" yaml:"cacheTimestamp,omitempty"`
}

// FailedResult is the zero-valued result returned when a lookup cannot be resolved.
// Only the requested IP is echoed back.
func FailedResult(req LookupRequest) GeolocationResult {
	return GeolocationResult{IP: req.IP}
}
