//go:build e2e
// +build e2e

package database

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"geoproxy/pkg/models"
)

func TestLookupJournal(t *testing.T) {
	ctx := context.Background()
	container, host, port := startPostgres(t, ctx)
	defer func() { _ = container.Terminate(ctx) }()

	cfg := Config{Host: host, Port: port, User: "postgres", Password: "postgres", DBName: "geoproxy"}

	var db *DB
	var err error
	// postgres restarts once after running its init scripts
	for attempt := 0; attempt < 10; attempt++ {
		if db, err = NewDB(ctx, cfg); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	requireNoErr(t, err)
	defer db.Close()

	requireNoErr(t, db.InitSchema(ctx))
	requireNoErr(t, db.InitSchema(ctx))

	result := models.GeolocationResult{IP: "8.8.8.8", Country: "United States", CountryCode: "US", Success: true}
	requireNoErr(t, db.Record(ctx, models.NewLookupRecord("req-1", "acme", "ip:8.8.8.8", result)))
	requireNoErr(t, db.Record(ctx, models.NewLookupRecord("req-2", "acme", "ip:1.1.1.1", result)))
	requireNoErr(t, db.Record(ctx, models.NewLookupRecord("req-3", "globex", "ip:8.8.8.8", result)))

	records, err := db.RecentLookups(ctx, "acme", 10)
	requireNoErr(t, err)
	if len(records) != 2 {
		t.Fatalf("expected 2 acme lookups, got %d", len(records))
	}
	if records[0].CountryCode != "US" || records[0].ID == 0 {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	volumes, err := db.VolumeSince(ctx, time.Now().Add(-time.Hour))
	requireNoErr(t, err)
	if len(volumes) != 2 || volumes[0].Account != "acme" || volumes[0].Count != 2 || volumes[1].Count != 1 {
		t.Fatalf("unexpected volumes: %+v", volumes)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, string, int) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "geoproxy",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").
			WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	requireNoErr(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	requireNoErr(t, err)
	host, portStr, err := net.SplitHostPort(endpoint)
	requireNoErr(t, err)
	port, err := strconv.Atoi(portStr)
	requireNoErr(t, err)

	return container, host, port
}

func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
