// Package rediscache is a Redis-backed second cache tier for geolocation
// results, shared between geoproxy processes.
package rediscache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"geoproxy/pkg/models"
)

const (
	defaultKeyPrefix = "geoproxy"
	scanBatch        = 500
)

// Config configures the Redis connection.
type Config struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	DB          int    `mapstructure:"db"`
	UsernameEnv string `mapstructure:"username_env"`
	PasswordEnv string `mapstructure:"password_env"`
	KeyPrefix   string `mapstructure:"key_prefix"`
	TLS         bool   `mapstructure:"tls"`
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis.port must be between 1 and 65535")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative")
	}
	if c.UsernameEnv != "" {
		if _, exists := os.LookupEnv(c.UsernameEnv); !exists {
			return fmt.Errorf("environment variable '%s' not found", c.UsernameEnv)
		}
	}
	if c.PasswordEnv != "" {
		if _, exists := os.LookupEnv(c.PasswordEnv); !exists {
			return fmt.Errorf("environment variable '%s' not found", c.PasswordEnv)
		}
	}
	return nil
}

// Store implements geolocation.SharedCache on Redis. Keys are
// "<prefix>:<account>:<cache key>" with the account query-escaped, and expire
// with the cache TTL.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

type storedEntry struct {
	Result     models.GeolocationResult `json:"result"`
	InsertedAt time.Time                `json:"insertedAt"`
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:   cfg.DB,
	}
	if cfg.UsernameEnv != "" {
		opts.Username = os.Getenv(cfg.UsernameEnv)
	}
	if cfg.PasswordEnv != "" {
		opts.Password = os.Getenv(cfg.PasswordEnv)
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: strings.TrimSuffix(keyPrefix, ":")}
}

// accountSegment escapes ':' and the SCAN glob characters so one account's
// pattern never matches another account's keys.
func accountSegment(account string) string {
	return url.QueryEscape(account)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (s *Store) key(account, key string) string {
	return s.keyPrefix + ":" + accountSegment(account) + ":" + key
}

func (s *Store) accountPattern(account string) string {
	return globEscaper.Replace(s.keyPrefix) + ":" + accountSegment(account) + ":*"
}

func (s *Store) allPattern() string {
	return globEscaper.Replace(s.keyPrefix) + ":*"
}

func (s *Store) Get(ctx context.Context, account, key string) (models.GeolocationResult, time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(account, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GeolocationResult{}, time.Time{}, false, nil
	}
	if err != nil {
		return models.GeolocationResult{}, time.Time{}, false, fmt.Errorf("redis query failed: %w", err)
	}

	var entry storedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.GeolocationResult{}, time.Time{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return entry.Result, entry.InsertedAt, true, nil
}

// Set stores result until insertedAt+ttl. Entries that are already expired are skipped.
func (s *Store) Set(ctx context.Context, account, key string, result models.GeolocationResult, insertedAt time.Time, ttl time.Duration) error {
	remaining := time.Until(insertedAt.Add(ttl))
	if remaining <= 0 {
		return nil
	}

	result.Cached = false
	result.CacheTimestamp = nil
	raw, err := json.Marshal(storedEntry{Result: result, InsertedAt: insertedAt})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(account, key), raw, remaining).Err(); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	return nil
}

func (s *Store) ClearAccount(ctx context.Context, account string) error {
	return s.deleteMatching(ctx, s.accountPattern(account))
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.deleteMatching(ctx, s.allPattern())
}

func (s *Store) deleteMatching(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies connectivity to Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases Redis client resources
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
