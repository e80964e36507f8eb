package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"geoproxy/pkg/database"
	"geoproxy/pkg/factory"
	"geoproxy/pkg/geolocation"
	"geoproxy/pkg/models"
	"geoproxy/pkg/proxypool"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v as json or yaml, or calls table for the table format.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case formatTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderResults(w io.Writer, format string, results []models.GeolocationResult) error {
	return render(w, format, results, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "IP\tCOUNTRY\tREGION\tCITY\tISP\tSUCCESS\tCACHED")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
				dash(r.IP), dash(r.CountryCode), dash(r.Region), dash(r.City), dash(r.ISP), r.Success, r.Cached)
		}
	})
}

func renderHealth(w io.Writer, format string, status geolocation.HealthStatus) error {
	return render(w, format, status, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "HEALTHY\tLATENCY\tERROR")
		fmt.Fprintf(tw, "%t\t%s\t%s\n", status.Healthy, status.Latency.Round(time.Millisecond), dash(status.Error))
	})
}

func renderPoolStats(w io.Writer, format string, stats []proxypool.EndpointStats) error {
	return render(w, format, stats, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "PORT\tHEALTHY\tFAILURES\tLAST USED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%d\t%t\t%d\t%s\n", s.Port, s.Healthy, s.FailureCount, timestamp(s.LastUsed))
		}
	})
}

func renderProbeReports(w io.Writer, format string, reports []proxypool.ProbeReport) error {
	return render(w, format, reports, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "PORT\tOK\tDURATION\tOP\tERROR")
		for _, r := range reports {
			op, msg := "-", "-"
			if r.Error != nil {
				op, msg = dash(r.Error.Op), dash(r.Error.Msg)
			}
			fmt.Fprintf(tw, "%d\t%t\t%s\t%s\t%s\n", r.Port, r.Success(), r.Duration.Round(time.Millisecond), op, msg)
		}
	})
}

func renderCacheStats(w io.Writer, format string, stats []geolocation.AccountCacheStats) error {
	return render(w, format, stats, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ACCOUNT\tENTRIES\tOLDEST\tNEWEST")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Account, s.Entries, timestamp(s.Oldest), timestamp(s.Newest))
		}
	})
}

type recommendation struct {
	factory.CacheSettings `yaml:",inline"`

	Account     string `json:"account,omitempty" yaml:"account,omitempty"`
	DailyVolume int    `json:"dailyVolume" yaml:"daily_volume"`
}

func renderRecommendations(w io.Writer, format string, recs []recommendation) error {
	return render(w, format, recs, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ACCOUNT\tDAILY VOLUME\tEXPIRATION\tMAX SIZE")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", dash(r.Account), r.DailyVolume, r.CacheExpiration, r.MaxCacheSize)
		}
	})
}

func renderHistory(w io.Writer, format string, records []models.LookupRecord) error {
	return render(w, format, records, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "TIME\tREQUEST\tKEY\tCOUNTRY\tCITY")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", timestamp(r.CreatedAt), r.RequestID, r.CacheKey, dash(r.CountryCode), dash(r.City))
		}
	})
}

func volumesByAccount(volumes []database.AccountVolume) map[string]int {
	out := make(map[string]int, len(volumes))
	for _, v := range volumes {
		out[v.Account] = v.Count
	}
	return out
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func parseVolume(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("daily volume must be a non-negative integer, got %q", arg)
	}
	return n, nil
}
