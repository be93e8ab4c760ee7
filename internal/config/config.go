// Package config loads and validates archiver configuration via Viper.
// Precedence is flags, then environment (TABARCHIVER_ prefix), then the
// optional config file, then defaults.
package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TABARCHIVER"

// DefaultUserAgent is a mobile Chrome string; the site serves its lighter
// mobile layout to it.
const DefaultUserAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/138.0.0.0 Mobile Safari/537.36"

// Config captures every knob of a run.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Adaptive  AdaptiveConfig  `mapstructure:"adaptive_delay"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Render    RenderConfig    `mapstructure:"render"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	settings map[string]any
}

// SiteConfig identifies the remote source.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// CrawlConfig scopes and paces the run.
type CrawlConfig struct {
	StartLetter       string        `mapstructure:"start_letter"`
	EndLetter         string        `mapstructure:"end_letter"`
	MaxBands          int           `mapstructure:"max_bands"`
	MaxTabsPerBand    int           `mapstructure:"max_tabs_per_band"`
	TabTypes          []string      `mapstructure:"tab_types"`
	IncludeMetadata   bool          `mapstructure:"include_metadata"`
	ScrapeOnly        bool          `mapstructure:"scrape_only"`
	DownloadOnly      bool          `mapstructure:"download_only"`
	SkipExistingBands bool          `mapstructure:"skip_existing_bands"`
	SkipExistingTabs  bool          `mapstructure:"skip_existing_tabs"`
	Workers           int           `mapstructure:"workers"`
	PacingDelay       time.Duration `mapstructure:"pacing_delay"`
	TabTimeout        time.Duration `mapstructure:"tab_timeout"`
	MaxPageFailures   int           `mapstructure:"max_page_failures"`
	Checkpoint        bool          `mapstructure:"checkpoint"`
}

// RetryConfig shapes the network retry loop.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Jitter            bool          `mapstructure:"jitter"`
	RetryableStatuses []int         `mapstructure:"retryable_statuses"`
}

// AdaptiveConfig tunes the download gap shared by all workers. It only
// applies when more than one worker runs.
type AdaptiveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Initial       time.Duration `mapstructure:"initial"`
	Max           time.Duration `mapstructure:"max"`
	Threshold     float64       `mapstructure:"threshold"`
	Window        int           `mapstructure:"window"`
	Increment     time.Duration `mapstructure:"increment"`
	Decrement     time.Duration `mapstructure:"decrement"`
	CheckInterval int           `mapstructure:"check_interval"`
}

// ReadinessConfig bounds the wait for client-rendered content.
type ReadinessConfig struct {
	Probes   int           `mapstructure:"probes"`
	Interval time.Duration `mapstructure:"interval"`
}

// RenderConfig controls the headless browser.
type RenderConfig struct {
	Listings     bool          `mapstructure:"listings"`
	Catalog      bool          `mapstructure:"catalog"`
	Tabs         bool          `mapstructure:"tabs"`
	Promote      bool          `mapstructure:"promote"`
	MaxParallel  int           `mapstructure:"max_parallel"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	Container    bool          `mapstructure:"container"`
	ChromeBin    string        `mapstructure:"chrome_bin"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
}

// HTTPConfig configures the static client.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// OutputConfig locates the archive.
type OutputConfig struct {
	Dir           string `mapstructure:"dir"`
	LocalFilesDir string `mapstructure:"local_files_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the metrics endpoint; an empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags registered with RegisterFlags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Container tooling sets these unprefixed.
	if err := v.BindEnv("render.container", EnvPrefix+"_RENDER_CONTAINER", "RUNNING_IN_CONTAINER"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("render.chrome_bin", EnvPrefix+"_RENDER_CHROME_BIN", "CHROME_BIN"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Output.LocalFilesDir == "" {
		cfg.Output.LocalFilesDir = cfg.Output.Dir
	}
	if cfg.Render.MaxParallel <= 0 {
		cfg.Render.MaxParallel = cfg.Crawl.Workers
	}
	cfg.settings = v.AllSettings()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.ultimate-guitar.com")
	v.SetDefault("site.user_agent", DefaultUserAgent)
	v.SetDefault("crawl.start_letter", model.DigitsBucket)
	v.SetDefault("crawl.end_letter", "z")
	v.SetDefault("crawl.max_bands", 0)
	v.SetDefault("crawl.max_tabs_per_band", 0)
	v.SetDefault("crawl.tab_types", []string{})
	v.SetDefault("crawl.include_metadata", false)
	v.SetDefault("crawl.scrape_only", false)
	v.SetDefault("crawl.download_only", false)
	v.SetDefault("crawl.skip_existing_bands", false)
	v.SetDefault("crawl.skip_existing_tabs", true)
	v.SetDefault("crawl.workers", 1)
	v.SetDefault("crawl.pacing_delay", time.Second)
	v.SetDefault("crawl.tab_timeout", 3*time.Minute)
	v.SetDefault("crawl.max_page_failures", 2)
	v.SetDefault("crawl.checkpoint", true)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.retryable_statuses", []int{403, 429})
	v.SetDefault("adaptive_delay.enabled", true)
	v.SetDefault("adaptive_delay.initial", time.Duration(0))
	v.SetDefault("adaptive_delay.max", 10*time.Second)
	v.SetDefault("adaptive_delay.threshold", 0.2)
	v.SetDefault("adaptive_delay.window", 50)
	v.SetDefault("adaptive_delay.increment", time.Second)
	v.SetDefault("adaptive_delay.decrement", 500*time.Millisecond)
	v.SetDefault("adaptive_delay.check_interval", 10)
	v.SetDefault("readiness.probes", 5)
	v.SetDefault("readiness.interval", 2*time.Second)
	v.SetDefault("render.listings", true)
	v.SetDefault("render.catalog", true)
	v.SetDefault("render.tabs", true)
	v.SetDefault("render.promote", false)
	v.SetDefault("render.max_parallel", 0)
	v.SetDefault("render.settle_delay", 2*time.Second)
	v.SetDefault("render.nav_timeout", 60*time.Second)
	v.SetDefault("render.container", false)
	v.SetDefault("render.chrome_bin", "")
	v.SetDefault("render.window_width", 412)
	v.SetDefault("render.window_height", 915)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("output.dir", "ug_tabs")
	v.SetDefault("output.local_files_dir", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return errors.New("site.base_url is required")
	}
	if c.Crawl.ScrapeOnly && c.Crawl.DownloadOnly {
		return errors.New("crawl.scrape_only and crawl.download_only are mutually exclusive")
	}
	if _, err := c.Letters(); err != nil {
		return err
	}
	if c.Crawl.MaxBands < 0 || c.Crawl.MaxTabsPerBand < 0 {
		return errors.New("crawl caps must be >= 0")
	}
	if c.Crawl.Workers <= 0 {
		return errors.New("crawl.workers must be > 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir is required")
	}
	if c.Readiness.Probes <= 0 {
		return errors.New("readiness.probes must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Adaptive.Enabled {
		if err := c.AdaptiveDelay().Validate(); err != nil {
			return fmt.Errorf("adaptive_delay: %w", err)
		}
	}
	return nil
}

// Mode derives the run mode from the exclusive mode switches.
func (c Config) Mode() model.Mode {
	switch {
	case c.Crawl.ScrapeOnly:
		return model.ModeScrapeOnly
	case c.Crawl.DownloadOnly:
		return model.ModeDownloadOnly
	}
	return model.ModeCombined
}

// Letters parses the configured bucket range.
func (c Config) Letters() (model.LetterRange, error) {
	r, err := model.ParseLetterRange(c.Crawl.StartLetter, c.Crawl.EndLetter)
	if err != nil {
		return model.LetterRange{}, fmt.Errorf("crawl letters: %w", err)
	}
	return r, nil
}

// RetryPolicy converts the retry block.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts:       c.Retry.MaxAttempts,
		BaseDelay:         c.Retry.BaseDelay,
		MaxDelay:          c.Retry.MaxDelay,
		Jitter:            c.Retry.Jitter,
		RetryableStatuses: c.Retry.RetryableStatuses,
	}
}

// AdaptiveDelay converts the adaptive_delay block.
func (c Config) AdaptiveDelay() crawler.AdaptiveConfig {
	return crawler.AdaptiveConfig{
		Initial:       c.Adaptive.Initial,
		Max:           c.Adaptive.Max,
		Threshold:     c.Adaptive.Threshold,
		Window:        c.Adaptive.Window,
		Increment:     c.Adaptive.Increment,
		Decrement:     c.Adaptive.Decrement,
		CheckInterval: c.Adaptive.CheckInterval,
	}
}

// Snapshot returns the merged settings for the run summary.
func (c Config) Snapshot() map[string]any {
	return maps.Clone(c.settings)
}
