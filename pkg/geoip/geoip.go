// Package geoip resolves IP addresses offline from MaxMind databases. It serves
// as the geolocation fallback when the upstream API cannot be reached.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"

	"github.com/oschwald/geoip2-golang/v2"
	"go.uber.org/zap"

	"geoproxy/pkg/logging"
	"geoproxy/pkg/models"
)

var ErrMissingDatabase = errors.New("city database path is required")

// Config locates the MaxMind databases. ASNDatabasePath is optional and fills
// the ISP and organization fields.
type Config struct {
	CityDatabasePath string `mapstructure:"city_database_path"`
	ASNDatabasePath  string `mapstructure:"asn_database_path"`
}

// Resolver looks up IP addresses in the MaxMind City (and optionally ASN) database.
type Resolver struct {
	cityDb *geoip2.Reader
	asnDb  *geoip2.Reader
	logger *zap.Logger
}

// Open loads the configured databases.
func Open(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if cfg.CityDatabasePath == "" {
		return nil, ErrMissingDatabase
	}

	cityDb, err := openDatabase(cfg.CityDatabasePath)
	if err != nil {
		return nil, err
	}

	r := &Resolver{cityDb: cityDb, logger: logging.Component(logger, "geoip")}
	if cfg.ASNDatabasePath != "" {
		asnDb, err := openDatabase(cfg.ASNDatabasePath)
		if err != nil {
			_ = cityDb.Close()
			return nil, err
		}
		r.asnDb = asnDb
	}
	return r, nil
}

func openDatabase(path string) (*geoip2.Reader, error) {
	databaseFilePath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("database path '%s' is not valid: %w", path, err)
	}
	db, err := geoip2.Open(databaseFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not open database at %s: %w", databaseFilePath, err)
	}
	return db, nil
}

// Resolve implements geolocation.Fallback. Only the IP of req is used.
func (r *Resolver) Resolve(ctx context.Context, req models.LookupRequest) (models.GeolocationResult, bool) {
	ip, err := netip.ParseAddr(req.IP)
	if err != nil {
		r.logger.Debug("not an IP address", zap.String("ip", req.IP))
		return models.GeolocationResult{}, false
	}

	cityRecord, err := r.cityDb.City(ip)
	if err != nil {
		r.logger.Error("could not get GeoIP data from MaxMind database", zap.String("ip", req.IP), zap.Error(err))
		return models.GeolocationResult{}, false
	}
	if !cityRecord.HasData() {
		r.logger.Debug("no GeoIP data in MaxMind database", zap.String("ip", req.IP))
		return models.GeolocationResult{}, false
	}

	result := models.GeolocationResult{
		IP:             req.IP,
		Country:        cityRecord.Country.Names.English,
		CountryCode:    cityRecord.Country.ISOCode,
		City:           cityRecord.City.Names.English,
		Zip:            cityRecord.Postal.Code,
		Timezone:       cityRecord.Location.TimeZone,
		AccuracyRadius: int(cityRecord.Location.AccuracyRadius),
		Success:        true,
	}
	if len(cityRecord.Subdivisions) > 0 {
		result.Region = cityRecord.Subdivisions[0].Names.English
		result.RegionCode = cityRecord.Subdivisions[0].ISOCode
	}
	if cityRecord.Location.HasCoordinates() {
		result.Latitude = *cityRecord.Location.Latitude
		result.Longitude = *cityRecord.Location.Longitude
	}

	if r.asnDb != nil {
		asnRecord, err := r.asnDb.ASN(ip)
		if err != nil {
			r.logger.Warn("could not get ASN data from MaxMind database", zap.String("ip", req.IP), zap.Error(err))
		} else if asnRecord.HasData() {
			result.ISP = asnRecord.AutonomousSystemOrganization
			result.Organization = fmt.Sprintf("AS%d %s", asnRecord.AutonomousSystemNumber, asnRecord.AutonomousSystemOrganization)
		}
	}

	return result, true
}

// Close releases the database readers.
func (r *Resolver) Close() error {
	var errs []error
	if r.cityDb != nil {
		errs = append(errs, r.cityDb.Close())
	}
	if r.asnDb != nil {
		errs = append(errs, r.asnDb.Close())
	}
	return errors.Join(errs...)
}
