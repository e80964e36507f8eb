// Package config loads geoproxy settings with viper and serves the per-account
// API credentials to the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"geoproxy/pkg/logging"
)

const envPrefix = "GEOPROXY"

var ErrUnknownAccount = errors.New("unknown account")

// Account holds the geolocation API credentials of one tenant.
type Account struct {
	Name     string        `mapstructure:"-"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheConfig controls the per-account lookup cache.
type CacheConfig struct {
	Expiration      time.Duration `mapstructure:"expiration"`
	MaxSize         int           `mapstructure:"max_size"`
	Enabled         bool          `mapstructure:"enabled"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type MetricsConfig struct {
	Address    string `mapstructure:"address"`
	HealthPath string `mapstructure:"health_path"`
}

// AccountStore resolves account credentials by name.
type AccountStore interface {
	Account(name string) (Account, error)
}

// Config is the decoded configuration. Sections owned by other packages
// (proxy, redis, database, geoip) are decoded on demand with Decode.
type Config struct {
	Accounts map[string]Account `mapstructure:"accounts"`
	Cache    CacheConfig        `mapstructure:"cache"`
	Logging  logging.Config     `mapstructure:"logging"`
	Metrics  MetricsConfig      `mapstructure:"metrics"`

	v *viper.Viper
}

// Load reads config.yaml from path, or from the default search paths when
// path is empty, applies GEOPROXY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.geoproxy")
		v.AddConfigPath("/etc/geoproxy/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	bindAccountEnv(v, os.Environ())

	return decode(v)
}

// accountFields are the account settings that GEOPROXY_ACCOUNTS_<NAME>_<FIELD>
// variables may set.
var accountFields = []string{"endpoint", "api_key", "timeout"}

// bindAccountEnv binds account variables explicitly because AutomaticEnv only
// reaches keys viper already knows, and account names are not known up front.
// A variable for a name missing from the config file defines a new account.
// Dashes in file account names are matched as underscores.
func bindAccountEnv(v *viper.Viper, environ []string) {
	known := make(map[string]string)
	for name := range v.GetStringMap("accounts") {
		known[envName(name)] = name
	}

	prefix := envPrefix + "_ACCOUNTS_"
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		for _, field := range accountFields {
			upper, ok := strings.CutSuffix(rest, "_"+strings.ToUpper(field))
			if !ok || upper == "" {
				continue
			}
			name, ok := known[upper]
			if !ok {
				name = strings.ToLower(upper)
			}
			_ = v.BindEnv("accounts."+name+"."+field, key)
			break
		}
	}
}

func envName(account string) string {
	return strings.ToUpper(strings.ReplaceAll(account, "-", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.scheme", "socks5")
	v.SetDefault("proxy.method", "")
	v.SetDefault("proxy.prefix", "")
	v.SetDefault("proxy.host", "gate.smartproxy.com")
	v.SetDefault("proxy.port_start", 10001)
	v.SetDefault("proxy.port_end", 10010)
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.max_retries", 3)
	v.SetDefault("proxy.retry_delay", time.Second)

	v.SetDefault("cache.expiration", 24*time.Hour)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.janitor_interval", time.Minute)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.health_path", "/healthz")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for name, account := range cfg.Accounts {
		account.Name = name
		cfg.Accounts[name] = account
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings owned by this package.
func (c *Config) Validate() error {
	if c.Cache.Expiration < 0 {
		return fmt.Errorf("cache.expiration must be non-negative")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be non-negative")
	}
	if c.Cache.JanitorInterval < 0 {
		return fmt.Errorf("cache.janitor_interval must be non-negative")
	}
	for name, account := range c.Accounts {
		if strings.TrimSpace(account.Endpoint) == "" {
			return fmt.Errorf("accounts.%s.endpoint is required", name)
		}
		if account.Timeout < 0 {
			return fmt.Errorf("accounts.%s.timeout must be non-negative", name)
		}
	}
	return nil
}

// Decode unmarshals the section at key into out, which should carry
// mapstructure tags.
func (c *Config) Decode(key string, out any) error {
	if c.v == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := c.v.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("failed to decode %s config: %w", key, err)
	}
	return nil
}

// Account implements AccountStore. Names are case-insensitive.
func (c *Config) Account(name string) (Account, error) {
	account, ok := c.Accounts[strings.ToLower(name)]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
	}
	return account, nil
}

// AccountNames returns the configured account names in sorted order.
func (c *Config) AccountNames() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
