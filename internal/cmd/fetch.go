package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ingestkit/ingestkit/internal/core"
	"github.com/ingestkit/ingestkit/internal/core/store"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/output"
	"github.com/ingestkit/ingestkit/internal/scrape"
	"github.com/ingestkit/ingestkit/internal/session"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Fetch URLs through the throttled session",
	Long: `Fetch one or more URLs through a single outbound session.

Every request shares the session throttler (session.throttler_rate_limit per
session.throttler_period) and is retried on transient network failures.
URLs are fetched concurrently, bounded by --workers.`,
	Example: `  ingestkit fetch https://example.com
  ingestkit fetch --extract --robots --record https://example.com/a https://example.com/b
  ingestkit fetch -X POST --json '{"q":"widgets"}' https://api.example.com/search
  ingestkit fetch --urls-file urls.txt --output json`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addFetchFlags(fetchCmd)
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("method", "X", http.MethodGet, "HTTP method: GET or POST")
	cmd.Flags().StringArrayP("header", "H", nil, "Extra request header 'Key: Value' (repeatable)")
	cmd.Flags().StringArray("param", nil, "Query parameter key=value (repeatable)")
	cmd.Flags().StringArrayP("data", "d", nil, "Form field key=value for POST (repeatable)")
	cmd.Flags().String("json", "", "JSON body for POST; takes precedence over --data")
	cmd.Flags().String("urls-file", "", "Read URLs from file (one per line, - for stdin)")
	cmd.Flags().Bool("robots", false, "Skip URLs disallowed by robots.txt")
	cmd.Flags().Bool("extract", false, "Extract readable article title and excerpt from HTML")
	cmd.Flags().Bool("record", false, "Record each fetch in the fetch log")
	cmd.Flags().Bool("body", false, "Print response bodies instead of a summary")
	cmd.Flags().BoolP("insecure", "k", false, "Skip TLS certificate verification")
	cmd.Flags().String("expect-content-type", "", "Retry until the response has this media type")
	cmd.Flags().Int("workers", 0, "Concurrent fetches (default from config)")
	cmd.Flags().String("output", "table", "Output format: table, json, yaml, markdown")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	startedAt := time.Now()

	urlsFile, _ := cmd.Flags().GetString("urls-file")
	targets, err := resolveURLs(args, urlsFile)
	if err != nil {
		return err
	}

	template, err := fetchTemplate(cmd)
	if err != nil {
		return err
	}

	formatValue, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}

	useRobots, _ := cmd.Flags().GetBool("robots")
	record, _ := cmd.Flags().GetBool("record")
	printBody, _ := cmd.Flags().GetBool("body")
	workers, _ := cmd.Flags().GetInt("workers")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = cfg.Workers
	}

	var db *store.Store
	if record {
		db, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
	}

	results := make([]*scrape.Result, len(targets))
	err = session.With(cfg.Session.SessionOptions(), func(sess *session.Session) error {
		var robots *scrape.RobotsCache
		if useRobots {
			robots = scrape.NewRobotsCache(sess, cfg.Session.UserAgent)
		}
		fetcher := scrape.NewFetcher(sess, robots)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, target := range targets {
			req := template
			req.URL = target
			g.Go(func() error {
				result, fetchErr := fetcher.Fetch(gctx, req)
				results[i] = result
				if fetchErr != nil {
					observability.CLILogger.Warn("Fetch failed",
						zap.String("url", target),
						zap.Error(fetchErr))
				}
				if db != nil {
					if err := db.RecordFetch(gctx, &result.Record); err != nil {
						return fmt.Errorf("record fetch %s: %w", target, err)
					}
				}
				return nil
			})
		}
		return g.Wait()
	}, session.WithLogger(observability.CLILogger))
	if err != nil {
		return err
	}

	if printBody {
		for _, result := range results {
			if result != nil && result.Response != nil {
				fmt.Println(result.Response.Text())
			}
		}
	} else {
		records := make([]core.FetchRecord, 0, len(results))
		for _, result := range results {
			if result != nil {
				records = append(records, result.Record)
			}
		}
		rendered, err := output.NewFormatter(format).FormatRecords(records)
		if err != nil {
			return err
		}
		if rendered != "" {
			fmt.Println(rendered)
		}
	}

	failed := 0
	for _, result := range results {
		if result == nil || result.Record.Error != "" {
			failed++
		}
	}

	if format == output.FormatTable {
		logThroughput(len(targets), startedAt)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(targets))
	}
	return nil
}

// fetchTemplate builds the per-URL request shared by every target.
func fetchTemplate(cmd *cobra.Command) (scrape.Request, error) {
	method, _ := cmd.Flags().GetString("method")
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != http.MethodGet && method != http.MethodPost {
		return scrape.Request{}, fmt.Errorf("unsupported method %q: use GET or POST", method)
	}

	headerValues, _ := cmd.Flags().GetStringArray("header")
	headerPairs, err := parsePairs(headerValues, ":")
	if err != nil {
		return scrape.Request{}, fmt.Errorf("--header: %w", err)
	}
	paramValues, _ := cmd.Flags().GetStringArray("param")
	paramPairs, err := parsePairs(paramValues, "=")
	if err != nil {
		return scrape.Request{}, fmt.Errorf("--param: %w", err)
	}
	dataValues, _ := cmd.Flags().GetStringArray("data")
	dataPairs, err := parsePairs(dataValues, "=")
	if err != nil {
		return scrape.Request{}, fmt.Errorf("--data: %w", err)
	}
	rawJSON, _ := cmd.Flags().GetString("json")

	extract, _ := cmd.Flags().GetBool("extract")
	insecure, _ := cmd.Flags().GetBool("insecure")
	expectContentType, _ := cmd.Flags().GetString("expect-content-type")

	req := scrape.Request{
		Method:            method,
		Extract:           extract,
		SkipTLSVerify:     insecure,
		ExpectContentType: strings.TrimSpace(expectContentType),
	}

	if len(headerPairs) > 0 {
		req.Headers = http.Header{}
		for key, value := range headerPairs {
			req.Headers.Set(key, value)
		}
	}
	if len(paramPairs) > 0 {
		req.Params = url.Values{}
		for key, value := range paramPairs {
			req.Params.Set(key, value)
		}
	}

	if method == http.MethodPost {
		switch {
		case strings.TrimSpace(rawJSON) != "":
			if !json.Valid([]byte(rawJSON)) {
				return scrape.Request{}, fmt.Errorf("--json is not valid JSON")
			}
			req.Body = session.PostBody{JSON: json.RawMessage(rawJSON)}
		case len(dataPairs) > 0:
			req.Body = session.PostBody{Data: dataPairs}
		}
	} else if rawJSON != "" || len(dataPairs) > 0 {
		return scrape.Request{}, fmt.Errorf("--json and --data require -X POST")
	}

	return req, nil
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(count) / elapsed.Seconds()
	observability.CLILogger.Info(
		"Fetch throughput",
		zap.Int("fetches", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", rate),
	)
}
