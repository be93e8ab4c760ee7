package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/clock/system"
	"github.com/JakeFAU/tab-archiver/internal/config"
	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/discover"
	"github.com/JakeFAU/tab-archiver/internal/extract"
	collyfetcher "github.com/JakeFAU/tab-archiver/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/tab-archiver/internal/fetcher/headless"
	"github.com/JakeFAU/tab-archiver/internal/headless/detector"
	"github.com/JakeFAU/tab-archiver/internal/id/uuid"
	"github.com/JakeFAU/tab-archiver/internal/logging"
	"github.com/JakeFAU/tab-archiver/internal/metrics"
	"github.com/JakeFAU/tab-archiver/internal/model"
	"github.com/JakeFAU/tab-archiver/internal/orchestrator"
	"github.com/JakeFAU/tab-archiver/internal/server"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabarchiver",
		Short: "Archive guitar tabs from Ultimate Guitar",
		Long: `tabarchiver walks the Ultimate Guitar artist index, records every artist's
tab catalogue as JSON and downloads the tab content next to it.

Runs are resumable: artists and tabs already on disk are skipped, and an
interrupted run leaves every completed artist intact.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runArchive,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	config.RegisterFlags(cmd.Flags())
	cmd.AddCommand(newRepairCmd())
	return cmd
}

func runArchive(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	rec := metrics.New(nil)
	engine, cleanup, err := buildEngine(cfg, rec, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if cfg.Metrics.Addr != "" {
		stopServer := startServer(ctx, cfg.Metrics.Addr, rec, engine, logger)
		defer stopServer()
	}

	summary, err := engine.Run(ctx)
	if summary != nil {
		logger.Info("summary written", zap.String("run_id", summary.RunID), zap.String("output_dir", cfg.Output.Dir))
	}
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	return nil
}

// buildEngine wires the fetch stack, discovery, extraction and storage into
// an orchestrator. cleanup releases the browser.
func buildEngine(cfg config.Config, rec *metrics.Recorder, logger *zap.Logger) (*orchestrator.Engine, func(), error) {
	letters, err := cfg.Letters()
	if err != nil {
		return nil, nil, err
	}
	filter := model.NewTypeFilter(cfg.Crawl.TabTypes)

	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Site.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
	})
	rendered, cleanup, err := buildRendered(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	opts := []crawler.ClientOption{crawler.WithObserver(rec)}
	if cfg.Render.Promote {
		opts = append(opts, crawler.WithPromoter(detector.NewHeuristic(0)))
	}
	client := crawler.NewClient(static, rendered, cfg.RetryPolicy(), logger.Named("fetch"), opts...)

	st, err := store.New(cfg.Output.Dir, logger.Named("store"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	discoverCfg := discover.Config{
		BaseURL:         cfg.Site.BaseURL,
		MaxBands:        cfg.Crawl.MaxBands,
		MaxTabsPerBand:  cfg.Crawl.MaxTabsPerBand,
		TabTypes:        filter,
		RenderListings:  cfg.Render.Listings,
		RenderCatalog:   cfg.Render.Catalog,
		MaxPageFailures: cfg.Crawl.MaxPageFailures,
	}
	deps := orchestrator.Deps{
		Discover: func(r discover.ErrorRecorder, known func(*model.Artist) bool) (orchestrator.Discoverer, error) {
			d, err := discover.New(discoverCfg, client, logger.Named("discover"),
				discover.WithRecorder(r), discover.WithKnown(known))
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		Extractor: extract.New(extract.Config{
			IncludeMetadata: cfg.Crawl.IncludeMetadata,
			RenderTabs:      cfg.Render.Tabs,
		}, client, logger.Named("extract")),
		Store:    st,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Observer: rec,
	}

	var adaptive *crawler.AdaptiveConfig
	if cfg.Adaptive.Enabled {
		ac := cfg.AdaptiveDelay()
		adaptive = &ac
	}

	engine, err := orchestrator.New(orchestrator.Config{
		Mode:              cfg.Mode(),
		Letters:           letters,
		MaxBands:          cfg.Crawl.MaxBands,
		MaxTabsPerBand:    cfg.Crawl.MaxTabsPerBand,
		TabTypes:          filter,
		SkipExistingBands: cfg.Crawl.SkipExistingBands,
		SkipExistingTabs:  cfg.Crawl.SkipExistingTabs,
		Workers:           cfg.Crawl.Workers,
		PacingDelay:       cfg.Crawl.PacingDelay,
		AdaptiveDelay:     adaptive,
		TabTimeout:        cfg.Crawl.TabTimeout,
		LocalFilesDir:     cfg.Output.LocalFilesDir,
		Checkpoint:        cfg.Crawl.Checkpoint,
		Snapshot:          cfg.Snapshot(),
	}, deps, logger.Named("orchestrator"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

// buildRendered starts the headless loader only when some page type needs it.
func buildRendered(cfg config.Config, logger *zap.Logger) (crawler.Loader, func(), error) {
	if !cfg.Render.Listings && !cfg.Render.Catalog && !cfg.Render.Tabs && !cfg.Render.Promote {
		return headlessfetcher.NewNoop(), func() {}, nil
	}
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Render.MaxParallel,
		UserAgent:         cfg.Site.UserAgent,
		NavigationTimeout: cfg.Render.NavTimeout,
		SettleDelay:       cfg.Render.SettleDelay,
		Container:         cfg.Render.Container,
		ChromeBin:         cfg.Render.ChromeBin,
		WindowWidth:       cfg.Render.WindowWidth,
		WindowHeight:      cfg.Render.WindowHeight,
		Readiness: crawler.Readiness{
			Probes:   cfg.Readiness.Probes,
			Interval: cfg.Readiness.Interval,
		},
	}, logger.Named("headless"))
	if err != nil {
		return nil, nil, fmt.Errorf("init headless loader: %w", err)
	}
	return f, f.Close, nil
}

// startServer runs the metrics and status endpoint until the returned stop
// function is called.
func startServer(ctx context.Context, addr string, rec *metrics.Recorder, engine *orchestrator.Engine, logger *zap.Logger) func() {
	status := func() any {
		if s := engine.Progress(); s != nil {
			return s
		}
		return nil
	}
	srv := server.New(addr, rec, status, logger.Named("server"))
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(srvCtx); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
