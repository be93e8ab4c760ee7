package config

import (
	"time"

	"github.com/spf13/pflag"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"base-url":            "site.base_url",
	"user-agent":          "site.user_agent",
	"start-letter":        "crawl.start_letter",
	"end-letter":          "crawl.end_letter",
	"max-bands":           "crawl.max_bands",
	"max-tabs-per-band":   "crawl.max_tabs_per_band",
	"tab-types":           "crawl.tab_types",
	"include-metadata":    "crawl.include_metadata",
	"scrape-only":         "crawl.scrape_only",
	"download-only":       "crawl.download_only",
	"skip-existing-bands": "crawl.skip_existing_bands",
	"skip-existing-tabs":  "crawl.skip_existing_tabs",
	"workers":             "crawl.workers",
	"pacing-delay":        "crawl.pacing_delay",
	"tab-timeout":         "crawl.tab_timeout",
	"checkpoint":          "crawl.checkpoint",
	"max-retry-attempts":  "retry.max_attempts",
	"retry-base-delay":    "retry.base_delay",
	"retry-max-delay":     "retry.max_delay",
	"retry-jitter":        "retry.jitter",
	"render-listings":     "render.listings",
	"render-catalog":      "render.catalog",
	"render-tabs":         "render.tabs",
	"render-promote":      "render.promote",
	"container":           "render.container",
	"chrome-bin":          "render.chrome_bin",
	"respect-robots":      "http.respect_robots",
	"outdir":              "output.dir",
	"local-files-dir":     "output.local_files_dir",
	"dev":                 "logging.development",
	"log-level":           "logging.level",
	"metrics-addr":        "metrics.addr",

	"adaptive-delay":                "adaptive_delay.enabled",
	"adaptive-delay-initial":        "adaptive_delay.initial",
	"adaptive-delay-max":            "adaptive_delay.max",
	"adaptive-delay-threshold":      "adaptive_delay.threshold",
	"adaptive-delay-window":         "adaptive_delay.window",
	"adaptive-delay-increment":      "adaptive_delay.increment",
	"adaptive-delay-decrement":      "adaptive_delay.decrement",
	"adaptive-delay-check-interval": "adaptive_delay.check_interval",
}

// RegisterFlags declares the run flags on fs. Flag defaults are only shown
// in help; the effective defaults live in setDefaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("base-url", "https://www.ultimate-guitar.com", "base URL of the site")
	fs.String("user-agent", DefaultUserAgent, "User-Agent for every request")
	fs.String("start-letter", "0-9", "first index bucket (0-9 or a-z)")
	fs.String("end-letter", "z", "last index bucket (0-9 or a-z)")
	fs.Int("max-bands", 0, "stop after this many artists (0 = unlimited)")
	fs.Int("max-tabs-per-band", 0, "cap tabs per artist (0 = unlimited)")
	fs.StringSlice("tab-types", nil, "only archive these tab types, e.g. CRD,TAB,PRO")
	fs.Bool("include-metadata", false, "prefix text tabs with a metadata header")
	fs.Bool("scrape-only", false, "list artists and tabs without downloading content")
	fs.Bool("download-only", false, "download tabs for artist records already on disk")
	fs.Bool("skip-existing-bands", false, "skip artists whose record already exists")
	fs.Bool("skip-existing-tabs", true, "skip tabs whose file already exists")
	fs.Int("workers", 1, "artists processed in parallel")
	fs.Duration("pacing-delay", time.Second, "minimum gap between tab downloads per worker")
	fs.Duration("tab-timeout", 3*time.Minute, "upper bound for one tab download")
	fs.Bool("checkpoint", true, "rewrite the summary after every artist")
	fs.Int("max-retry-attempts", 4, "retries after the first failed request")
	fs.Duration("retry-base-delay", 2*time.Second, "first backoff delay")
	fs.Duration("retry-max-delay", 30*time.Second, "backoff ceiling")
	fs.Bool("retry-jitter", true, "randomise backoff delays")
	fs.Bool("adaptive-delay", true, "grow the download gap shared by workers when failures rise")
	fs.Duration("adaptive-delay-initial", 0, "starting and minimum adaptive gap")
	fs.Duration("adaptive-delay-max", 10*time.Second, "maximum adaptive gap")
	fs.Float64("adaptive-delay-threshold", 0.2, "failure rate above which the gap grows")
	fs.Int("adaptive-delay-window", 50, "recent downloads used for the failure rate")
	fs.Duration("adaptive-delay-increment", time.Second, "gap increase on a high failure rate")
	fs.Duration("adaptive-delay-decrement", 500*time.Millisecond, "gap decrease on a low failure rate")
	fs.Int("adaptive-delay-check-interval", 10, "downloads between gap adjustments")
	fs.Bool("render-listings", true, "load artist index pages in the browser")
	fs.Bool("render-catalog", true, "load tab catalogue pages in the browser")
	fs.Bool("render-tabs", true, "load tab pages in the browser")
	fs.Bool("render-promote", false, "retry static pages that come back as script shells in the browser")
	fs.Bool("container", false, "apply browser flags needed inside containers")
	fs.String("chrome-bin", "", "path to the Chrome binary")
	fs.Bool("respect-robots", false, "honour robots.txt for static requests")
	fs.String("outdir", "ug_tabs", "archive output directory")
	fs.String("local-files-dir", "", "artist records to read in download-only mode (default: outdir)")
	fs.Bool("dev", false, "human-readable development logging")
	fs.String("log-level", "", "minimum log level (debug, info, warn, error)")
	fs.String("metrics-addr", "", "serve /metrics, /healthz and /status on this address")
}
