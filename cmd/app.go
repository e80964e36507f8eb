package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"geoproxy/pkg/config"
	"geoproxy/pkg/database"
	"geoproxy/pkg/factory"
	"geoproxy/pkg/geoip"
	"geoproxy/pkg/geolocation"
	"geoproxy/pkg/metrics"
	"geoproxy/pkg/proxypool"
	"geoproxy/pkg/rediscache"
)

// app holds the collaborators shared by every command: the factory, the
// optional cache/fallback/journal tiers and the services built so far.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory *factory.Factory
	opts    factory.Options
	db      *database.DB

	services map[string]*geolocation.Service
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, inst *metrics.Instrumentation) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "cli")),
		factory:  factory.New(logger, inst),
		services: make(map[string]*geolocation.Service),
	}

	var proxyCfg proxypool.Config
	if err := cfg.Decode("proxy", &proxyCfg); err != nil {
		return nil, err
	}
	a.opts = factory.Options{
		Proxy:           &proxyCfg,
		CacheExpiration: &cfg.Cache.Expiration,
		MaxCacheSize:    &cfg.Cache.MaxSize,
		EnableCache:     &cfg.Cache.Enabled,
	}

	if err := a.openTiers(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openTiers(ctx context.Context) error {
	var redisCfg rediscache.Config
	if err := a.cfg.Decode("redis", &redisCfg); err != nil {
		return err
	}
	if redisCfg.Host != "" {
		store, err := rediscache.New(ctx, redisCfg)
		if err != nil {
			return err
		}
		a.opts.SharedCache = store
		a.closers = append(a.closers, store.Close)
		a.logger.Debug("shared cache enabled", zap.String("host", redisCfg.Host))
	}

	var geoipCfg geoip.Config
	if err := a.cfg.Decode("geoip", &geoipCfg); err != nil {
		return err
	}
	if geoipCfg.CityDatabasePath != "" {
		resolver, err := geoip.Open(geoipCfg, a.logger)
		if err != nil {
			return err
		}
		a.opts.Fallback = resolver
		a.closers = append(a.closers, resolver.Close)
		a.logger.Debug("geoip fallback enabled", zap.String("path", geoipCfg.CityDatabasePath))
	}

	var dbCfg database.Config
	if err := a.cfg.Decode("database", &dbCfg); err != nil {
		return err
	}
	if dbCfg.Enabled() {
		db, err := database.NewDB(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("error initializing database schema: %w", err)
		}
		a.db = db
		a.opts.Recorder = db
	}
	return nil
}

// account resolves the --account flag; it may be omitted when exactly one
// account is configured.
func (a *app) account(name string) (config.Account, error) {
	if name != "" {
		return a.cfg.Account(name)
	}
	names := a.cfg.AccountNames()
	switch len(names) {
	case 0:
		return config.Account{}, errors.New("no accounts configured")
	case 1:
		return a.cfg.Account(names[0])
	default:
		return config.Account{}, fmt.Errorf("--account is required, configured accounts: %v", names)
	}
}

func apiFor(account config.Account) geolocation.API {
	return geolocation.API{
		Endpoint: account.Endpoint,
		APIKey:   account.APIKey,
		Timeout:  account.Timeout,
	}
}

// service returns the service for account. With a single configured account
// the factory's shared instance is used.
func (a *app) service(account config.Account) (*geolocation.Service, error) {
	if svc, ok := a.services[account.Name]; ok {
		return svc, nil
	}

	var (
		svc *geolocation.Service
		err error
	)
	if len(a.cfg.Accounts) == 1 {
		svc, err = a.factory.Instance(apiFor(account), a.opts)
	} else {
		svc, err = a.factory.Create(apiFor(account), a.opts)
	}
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account.Name, err)
	}
	a.services[account.Name] = svc
	return svc, nil
}

func (a *app) journal() (*database.DB, error) {
	if a.db == nil {
		return nil, errors.New("database is not configured")
	}
	return a.db, nil
}

func (a *app) Close() {
	a.factory.ResetInstance()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
