package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geoproxy/pkg/geolocation"
	"geoproxy/pkg/metrics"
	"geoproxy/pkg/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Resolve JSON-lines lookup requests from stdin with a pool of workers",
	Long: `serve reads one lookup request per line from stdin (a bare IP or a JSON
request) and writes one JSON result per line to stdout. Each worker owns an
independent proxy pool. Prometheus metrics and a health probe are exposed on
metrics.address, and expired cache entries are swept every cache.janitor_interval.
The command exits when stdin is closed or on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		runCtx, cancelRunCtx := context.WithCancel(cmd.Context())
		defer cancelRunCtx()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
				cancelRunCtx()
			case <-runCtx.Done():
			}
		}()

		metricsServer := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.HealthPath, logger.With(zap.String("component", "metrics-server")))

		a, err := newApp(runCtx, cfg, logger, metricsServer.Instrumentation())
		if err != nil {
			return err
		}
		defer a.Close()

		account, err := a.account(accountFlag)
		if err != nil {
			return err
		}
		services, err := a.factory.CreatePool(apiFor(account), workers, a.opts)
		if err != nil {
			return err
		}

		metricsServer.SetHealthFunc(func(ctx context.Context) error {
			if status := services[0].HealthCheck(ctx); !status.Healthy {
				return errors.New(status.Error)
			}
			return nil
		})

		group, groupCtx := errgroup.WithContext(runCtx)

		group.Go(func() error {
			return metricsServer.Start(groupCtx)
		})
		for _, svc := range services {
			group.Go(func() error {
				return svc.StartJanitor(groupCtx, cfg.Cache.JanitorInterval)
			})
		}
		group.Go(func() error {
			defer cancelRunCtx()
			return serveLines(groupCtx, cmd.InOrStdin(), cmd.OutOrStdout(), account.Name, services, a.logger)
		})

		err = group.Wait()
		for _, svc := range services {
			for _, s := range svc.CacheStats() {
				logger.Info("final cache stats", zap.String("account", s.Account), zap.Int("entries", s.Entries))
			}
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("serve exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

// serveLines fans requests out to one goroutine per service and writes results
// as they complete. Output order follows completion, not input.
func serveLines(ctx context.Context, in io.Reader, out io.Writer, account string, services []*geolocation.Service, log *zap.Logger) error {
	reqs := make(chan models.LookupRequest)

	var (
		mu  sync.Mutex
		enc = json.NewEncoder(out)
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range services {
		group.Go(func() error {
			for req := range reqs {
				result := svc.Lookup(groupCtx, account, req)
				mu.Lock()
				err := enc.Encode(result)
				mu.Unlock()
				if err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			}
			return nil
		})
	}

	// The scanner runs outside the group so a blocked read of stdin cannot
	// hold up shutdown.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-groupCtx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	group.Go(func() error {
		defer close(reqs)
		for {
			var line string
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case l, ok := <-lines:
				if !ok {
					select {
					case err := <-scanErr:
						return err
					default:
						return nil
					}
				}
				line = strings.TrimSpace(l)
			}
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			req, err := parseRequest(line)
			if err != nil {
				log.Warn("skipping request", zap.String("line", line), zap.Error(err))
				continue
			}
			select {
			case reqs <- req:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	return group.Wait()
}

func init() {
	serveCmd.Flags().Int("workers", 1, "Number of independent services, each with its own proxy pool")
}
