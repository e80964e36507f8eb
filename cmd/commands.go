package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geoproxy/pkg/factory"
	"geoproxy/pkg/geolocation"
	"geoproxy/pkg/models"
	"geoproxy/pkg/proxypool"
)

// withService builds the app and the service of the selected account and
// hands both to fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, a *app, svc *geolocation.Service, account string) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	account, err := a.account(accountFlag)
	if err != nil {
		return err
	}
	svc, err := a.service(account)
	if err != nil {
		return err
	}
	return fn(ctx, a, svc, account.Name)
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [ip]",
	Short: "Look up the geolocation of an IP, domain or coordinate pair",
	Example: `geoproxy lookup 8.8.8.8
geoproxy lookup --domain example.com
geoproxy lookup --lat 52.52 --lng 13.405`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := lookupRequestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, a *app, svc *geolocation.Service, account string) error {
			result := svc.Lookup(ctx, account, req)
			return renderResults(cmd.OutOrStdout(), outputFormat, []models.GeolocationResult{result})
		})
	},
}

func lookupRequestFromFlags(cmd *cobra.Command, args []string) (models.LookupRequest, error) {
	var req models.LookupRequest
	if len(args) == 1 {
		req.IP = args[0]
	}
	req.Domain, _ = cmd.Flags().GetString("domain")

	latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
	if latSet != lngSet {
		return req, errors.New("--lat and --lng must be given together")
	}
	if latSet {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		req.Latitude, req.Longitude = &lat, &lng
	}

	if req.IP == "" && req.Domain == "" && !req.HasCoordinates() {
		return req, errors.New("an ip, --domain or --lat/--lng is required")
	}
	return req, nil
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Look up every request in a file, five at a time",
	Long: `Each line of the file is either a bare IP address or a JSON lookup request
such as {"domain":"example.com"}. Use "-" to read from stdin. Blank lines and
lines starting with # are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := readRequests(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		showStats, _ := cmd.Flags().GetBool("stats")

		return withService(cmd, func(ctx context.Context, a *app, svc *geolocation.Service, account string) error {
			results := svc.LookupBatch(ctx, account, reqs)
			out := cmd.OutOrStdout()
			if err := renderResults(out, outputFormat, results); err != nil {
				return err
			}
			if !showStats {
				return nil
			}
			fmt.Fprintln(out)
			if err := renderCacheStats(out, outputFormat, svc.CacheStats()); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return renderPoolStats(out, outputFormat, svc.Pool().Stats())
		})
	},
}

func readRequests(stdin io.Reader, path string) ([]models.LookupRequest, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	return parseRequests(r)
}

func parseRequests(r io.Reader) ([]models.LookupRequest, error) {
	var reqs []models.LookupRequest
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := parseRequest(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return reqs, nil
}

func parseRequest(line string) (models.LookupRequest, error) {
	var req models.LookupRequest
	if !strings.HasPrefix(line, "{") {
		req.IP = line
		return req, nil
	}
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return req, fmt.Errorf("invalid lookup request: %w", err)
	}
	return req, nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a live lookup through the proxy pool, bypassing the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, a *app, svc *geolocation.Service, account string) error {
			status := svc.HealthCheck(ctx)
			if err := renderHealth(cmd.OutOrStdout(), outputFormat, status); err != nil {
				return err
			}
			if !status.Healthy {
				return errors.New("geolocation service is unhealthy")
			}
			return nil
		})
	},
}

var poolStatsCmd = &cobra.Command{
	Use:   "pool-stats",
	Short: "Show proxy endpoint health, optionally after probing every endpoint",
	Long: `With --probe each endpoint resolves a domain with a DNS query over TCP sent
through the proxy, and the outcome updates the endpoint failure counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")
		probeCfg := proxypool.ProbeConfig{}
		probeCfg.Resolver, _ = cmd.Flags().GetString("resolver")
		probeCfg.Domain, _ = cmd.Flags().GetString("domain")

		return withService(cmd, func(ctx context.Context, a *app, svc *geolocation.Service, account string) error {
			out := cmd.OutOrStdout()
			if probe {
				reports := svc.Pool().Probe(ctx, probeCfg)
				if err := renderProbeReports(out, outputFormat, reports); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			return renderPoolStats(out, outputFormat, svc.Pool().Stats())
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "cache-clear",
	Short: "Clear cached lookups of the account, or of every account with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withService(cmd, func(ctx context.Context, a *app, svc *geolocation.Service, account string) error {
			if all {
				if err := svc.ClearAllCache(ctx); err != nil {
					return err
				}
				a.logger.Info("cleared cache of every account")
				return nil
			}
			if err := svc.ClearAccountCache(ctx, account); err != nil {
				return err
			}
			a.logger.Info("cleared account cache", zap.String("account", account))
			return nil
		})
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend [daily-volume]",
	Short: "Recommend cache settings for an expected daily lookup volume",
	Long: `Without an argument the volume of every account over the last 24 hours is
read from the lookup journal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			volume, err := parseVolume(args[0])
			if err != nil {
				return err
			}
			recs := []recommendation{{DailyVolume: volume, CacheSettings: factory.RecommendedCacheSettings(volume)}}
			return renderRecommendations(cmd.OutOrStdout(), outputFormat, recs)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		db, err := a.journal()
		if err != nil {
			return fmt.Errorf("%w: pass a daily volume instead", err)
		}
		volumes, err := db.VolumeSince(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		byAccount := volumesByAccount(volumes)

		var recs []recommendation
		for _, name := range a.cfg.AccountNames() {
			volume := byAccount[name]
			recs = append(recs, recommendation{Account: name, DailyVolume: volume, CacheSettings: factory.RecommendedCacheSettings(volume)})
		}
		return renderRecommendations(cmd.OutOrStdout(), outputFormat, recs)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent journaled lookups of the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		db, err := a.journal()
		if err != nil {
			return err
		}
		account, err := a.account(accountFlag)
		if err != nil {
			return err
		}
		records, err := db.RecentLookups(ctx, account.Name, limit)
		if err != nil {
			return err
		}
		return renderHistory(cmd.OutOrStdout(), outputFormat, records)
	},
}

func init() {
	lookupCmd.Flags().String("domain", "", "Domain to look up")
	lookupCmd.Flags().Float64("lat", 0, "Latitude for a reverse lookup")
	lookupCmd.Flags().Float64("lng", 0, "Longitude for a reverse lookup")

	batchCmd.Flags().Bool("stats", false, "Print cache and proxy pool statistics after the batch")
	poolStatsCmd.Flags().Bool("probe", false, "Probe every endpoint before printing")
	poolStatsCmd.Flags().String("resolver", proxypool.DefaultProbeResolver, "DNS resolver queried through each endpoint")
	poolStatsCmd.Flags().String("domain", proxypool.DefaultProbeDomain, "Domain resolved through each endpoint")
	cacheClearCmd.Flags().Bool("all", false, "Clear every account")
	historyCmd.Flags().Int("limit", 20, "Maximum number of lookups to show")
}
