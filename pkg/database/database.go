package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"geoproxy/pkg/models"
)

// Config holds the Postgres connection settings of the lookup journal.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether a journal database is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{sslmode}}.Encode(),
	}
	return u.String()
}

type DB struct {
	*bun.DB
}

func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("database.host is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the lookup journal table and its indexes if they don't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.LookupRecord)(nil)).
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.LookupRecord)(nil)).
		Index("lookups_account_created_at_idx").
		Column("account", "created_at").
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (db *DB) InsertLookup(ctx context.Context, record *models.LookupRecord) error {
	_, err := db.NewInsert().
		Model(record).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error inserting lookup: %w", err)
	}

	return nil
}

// Record journals one lookup; it satisfies geolocation.Recorder.
func (db *DB) Record(ctx context.Context, record *models.LookupRecord) error {
	return db.InsertLookup(ctx, record)
}

// RecentLookups returns the newest journal rows for account, newest first.
func (db *DB) RecentLookups(ctx context.Context, account string, limit int) ([]models.LookupRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []models.LookupRecord
	err := db.NewSelect().
		Model(&records).
		Where("account = ?", account).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error getting recent lookups: %w", err)
	}

	return records, nil
}

// AccountVolume is the number of journaled lookups of one account.
type AccountVolume struct {
	Account string `bun:"account" json:"account" yaml:"account"`
	Count   int    `bun:"count" json:"count" yaml:"count"`
}

// VolumeSince counts lookups per account created after since. The CLI feeds
// the result into the cache sizing heuristic.
func (db *DB) VolumeSince(ctx context.Context, since time.Time) ([]AccountVolume, error) {
	var volumes []AccountVolume
	err := db.NewSelect().
		Model((*models.LookupRecord)(nil)).
		Column("account").
		ColumnExpr("count(*) as count").
		Where("created_at > ?", since).
		Group("account").
		Order("account").
		Scan(ctx, &volumes)

	if err != nil {
		return nil, fmt.Errorf("error counting lookups: %w", err)
	}

	return volumes, nil
}
