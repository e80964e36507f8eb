package geolocation

import (
	"strconv"
	"strings"

	"geoproxy/pkg/models"
)

// DefaultCacheKey is used for requests without any discriminator.
const DefaultCacheKey = "default"

// CacheKey derives the per-account cache key of req. Present discriminators are
// concatenated in the order ip, domain, lat/lng.
func CacheKey(req models.LookupRequest) string {
	var parts []string
	if req.IP != "" {
		parts = append(parts, "ip:"+req.IP)
	}
	if req.Domain != "" {
		parts = append(parts, "domain:"+req.Domain)
	}
	if req.HasCoordinates() {
		parts = append(parts, "lat:"+formatCoord(*req.Latitude)+",lng:"+formatCoord(*req.Longitude))
	}
	if len(parts) == 0 {
		return DefaultCacheKey
	}
	return strings.Join(parts, "|")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
