package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/config"
	"github.com/alvmarrod/peer-weaver/internal/crawler"
	"github.com/alvmarrod/peer-weaver/internal/metrics"
	"github.com/alvmarrod/peer-weaver/internal/storage"
	"github.com/alvmarrod/peer-weaver/internal/topology"
	"github.com/alvmarrod/peer-weaver/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the P2P network from the given seeds",
	Long: `Discovers every node reachable from the seeds through their admin
endpoints, then maps node identities to IPs and prints the result as JSON.

Example:
  peerweaver crawl --seed 10.0.0.1 --seed 10.0.0.2:7100 \
    --max-depth 3 --max-concurrency 20 --db runs.db`,
	RunE: runCrawl,
}

func init() {
	flags := crawlCmd.Flags()
	flags.StringSlice("seed", nil, "Seed node address or URL (repeatable)")
	flags.Int("max-depth", 5, "Maximum recursion depth of IP discovery")
	flags.Int("max-concurrency", 10, "Maximum concurrent requests")
	flags.Int("timeout-ms", 5000, "Per-request timeout in milliseconds")
	flags.Int("retries", 1, "Retries per request")
	flags.String("platform", "icon", "Roster platform (icon or havah)")
	flags.Int("admin-port", 9000, "Admin/RPC port of every node")
	flags.String("nid", "", "Network id (discovered from the seed when empty)")
	flags.StringP("output", "o", "", "Write the JSON result to this file instead of stdout")
	flags.String("metrics-path", "metrics.log", "Run summary file")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address while crawling")

	for key, flag := range map[string]string{
		"seed_urls":          "seed",
		"max_depth":          "max-depth",
		"max_concurrency":    "max-concurrency",
		"request_timeout_ms": "timeout-ms",
		"retries":            "retries",
		"platform":           "platform",
		"admin_port":         "admin-port",
		"nid":                "nid",
		"output_path":        "output",
		"metrics_path":       "metrics-path",
		"metrics_addr":       "metrics-addr",
	} {
		mustBind(v, key, flags.Lookup(flag))
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(v, configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(v)

	logrus.Infof("Peer Weaver v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: seeds=%v, depth=%d, concurrency=%d, platform=%s",
		cfg.SeedURLs, cfg.MaxDepth, cfg.MaxConcurrency, cfg.Platform)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := metrics.NewTracker()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: tracker.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer srv.Close()
		logrus.Infof("Serving metrics on %s", cfg.MetricsAddr)
	}

	c, err := crawler.NewCrawler(cfg, tracker, nil)
	if err != nil {
		return err
	}

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	startTime := time.Now()
	result, err := c.Run(ctx)
	close(stopProgress)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	terminationReason := "completed"
	if ctx.Err() != nil {
		terminationReason = "signal"
	}

	logrus.Info("Final stats: " + tracker.LogProgress())

	if cfg.DBPath != "" {
		if err := storeRun(cfg, c, result, startTime); err != nil {
			logrus.Errorf("Failed to store run: %v", err)
		}
	}

	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	return writeResult(cfg.OutputPath, result)
}

// storeRun saves run metadata and flushes the identity book to SQLite
func storeRun(cfg *config.Config, c *crawler.Crawler, result topology.Result, startTime time.Time) error {
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.CreateRun(storage.Run{
		Seeds:         cfg.SeedURLs,
		Platform:      cfg.Platform,
		StartedAt:     startTime,
		ElapsedMs:     result.Statistics.Elapsed.Milliseconds(),
		VisitedNodes:  result.Statistics.VisitedNodes,
		ErrorCount:    result.Statistics.ErrorCount,
		TimeoutCount:  result.Statistics.TimeoutCount,
		DiscoveredIPs: c.DiscoveredIPs(),
		Roster:        c.RosterNames(),
	})
	if err != nil {
		return err
	}

	if err := c.Book().Flush(store, runID); err != nil {
		return err
	}

	logrus.Infof("Run stored as #%d in %s", runID, cfg.DBPath)
	return nil
}

// writeResult prints the result as indented JSON to path, or stdout when empty
func writeResult(path string, result topology.Result) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
