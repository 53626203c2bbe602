package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/checker"
	"github.com/HanTheDev/phone-checker/internal/confidence"
	"github.com/HanTheDev/phone-checker/internal/config"
	"github.com/HanTheDev/phone-checker/internal/logging"
	"github.com/HanTheDev/phone-checker/internal/models"
	"github.com/HanTheDev/phone-checker/internal/phone"
	"github.com/HanTheDev/phone-checker/internal/probe"
	"github.com/HanTheDev/phone-checker/internal/ratelimit"
)

func main() {
	country := flag.String("country", "33", "country calling code used when the number has no leading +")
	platforms := flag.String("platforms", "", "comma separated platforms (default: every enabled platform)")
	force := flag.Bool("force", false, "ignore cached results")
	timeout := flag.Duration("timeout", 0, "check deadline (default: CHECK_TIMEOUT)")
	asJSON := flag.Bool("json", false, "print the raw JSON response")
	noCache := flag.Bool("no-cache", false, "do not read or write the on-disk cache")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: phonecheck [flags] <phone>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	client, err := probe.NewHTTPClient(cfg.ProxyURL)
	if err != nil {
		log.Fatal("Failed to initialize http client:", err)
	}
	scorer := confidence.NewScorer()
	opts := []checker.Option{checker.WithScorer(scorer), checker.WithLogger(logger)}

	if cfg.CacheEnabled && !*noCache {
		store, err := cache.NewFileStore(cfg.CacheDir, logger)
		if err != nil {
			log.Fatal("Failed to open cache:", err)
		}
		c := cache.New(store, cache.Options{
			MaxSizeBytes: cfg.CacheMaxSizeBytes,
			MaxEntries:   cfg.CacheMaxEntries,
			TTL:          cfg.CacheTTLs(),
			Logger:       logger,
		})
		if _, err := c.Load(context.Background()); err != nil {
			logger.Warn("failed to load cache index", "error", err)
		}
		opts = append(opts, checker.WithCache(c))
	}

	limiter := ratelimit.NewWindowLimiter(ratelimit.BudgetsFromConfig(cfg))
	svc := checker.New(cfg, phone.NewNormalizer(), probe.FromConfig(cfg, client, scorer, logger), limiter, opts...)

	req := checker.Request{
		Phone:        flag.Arg(0),
		CountryCode:  *country,
		Platforms:    parsePlatforms(*platforms, svc.Platforms()),
		ForceRefresh: *force,
		Timeout:      *timeout,
	}

	resp, err := svc.Check(context.Background(), req)
	if errors.Is(err, checker.ErrInvalidNumber) {
		fmt.Fprintf(os.Stderr, "Invalid phone number %q for country code %s\n", flag.Arg(0), *country)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("Check failed:", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			log.Fatal(err)
		}
		return
	}
	printTable(os.Stdout, resp)
}

func parsePlatforms(flagValue string, available []models.Platform) []models.Platform {
	if strings.TrimSpace(flagValue) == "" {
		return available
	}
	var out []models.Platform
	for _, name := range strings.Split(flagValue, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, models.Platform(name))
		}
	}
	return out
}

func printTable(w io.Writer, resp *models.CheckResponse) {
	fmt.Fprintf(w, "Results for %s (%s)\n\n", resp.Request.Number.E164, resp.Request.Number.Region)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSTATUS\tCONFIDENCE\tSOURCE\tDETAILS\tCHECKED AT")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			strings.ToUpper(string(r.Platform)),
			status(r),
			r.Confidence,
			source(r),
			details(r),
			r.CheckedAt.Local().Format("15:04:05 02/01/2006"),
		)
	}
	tw.Flush()

	s := resp.Summary
	fmt.Fprintf(w, "\nOutcome: %s, success rate %.0f%%, %s\n", s.Outcome, s.SuccessRate*100, resp.TotalTime.Round(time.Millisecond))
}

func status(r models.PlatformResult) string {
	switch {
	case r.Failed():
		return "error"
	case r.Exists:
		return "found"
	default:
		return "not found"
	}
}

func source(r models.PlatformResult) string {
	if r.FromCache {
		return fmt.Sprintf("cache (%.0f%% fresh)", r.Freshness*100)
	}
	return "live"
}

func details(r models.PlatformResult) string {
	if r.Failed() {
		return fmt.Sprintf("%s: %s", r.ErrorKind, r.Error)
	}
	if len(r.Metadata) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r.Metadata[k]
	}
	return strings.Join(parts, " ")
}
