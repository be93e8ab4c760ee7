package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

const defaultTabTimeout = 3 * time.Minute

// Config controls a run.
type Config struct {
	Mode              model.Mode
	Letters           model.LetterRange
	MaxBands          int
	MaxTabsPerBand    int
	TabTypes          model.TypeFilter
	SkipExistingBands bool
	SkipExistingTabs  bool
	Workers           int
	PacingDelay       time.Duration
	// AdaptiveDelay, when set, adds a gap shared by all workers that follows
	// the recent download failure rate. Single-worker runs ignore it.
	AdaptiveDelay *crawler.AdaptiveConfig
	TabTimeout    time.Duration
	LocalFilesDir string
	Checkpoint    bool
	// Snapshot is copied verbatim into the summary's config block.
	Snapshot map[string]any
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Discover  DiscovererFactory
	Extractor Extractor
	Store     Store
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Observer  Observer
	// Pauser sleeps out adaptive gaps; nil uses a timer.
	Pauser crawler.Pauser
}

// Engine runs archive passes.
type Engine struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	flushMu sync.Mutex
	current atomic.Pointer[RunState]
}

// New validates the dependencies and returns an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = model.ModeCombined
	}
	if cfg.Mode.Scrapes() && deps.Discover == nil {
		return nil, errors.New("orchestrator: discoverer is required to scrape")
	}
	if cfg.Mode.Downloads() && deps.Extractor == nil {
		return nil, errors.New("orchestrator: extractor is required to download")
	}
	if cfg.Mode == model.ModeDownloadOnly && cfg.LocalFilesDir == "" {
		return nil, errors.New("orchestrator: local files directory is required in download-only mode")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PacingDelay < 0 {
		cfg.PacingDelay = 0
	}
	if cfg.AdaptiveDelay != nil {
		if err := cfg.AdaptiveDelay.Validate(); err != nil {
			return nil, fmt.Errorf("orchestrator: adaptive delay: %w", err)
		}
	}
	if cfg.TabTimeout <= 0 {
		cfg.TabTimeout = defaultTabTimeout
	}
	if cfg.Letters == (model.LetterRange{}) {
		cfg.Letters = model.LetterRange{Start: model.DigitsBucket, End: "z"}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run executes one pass in the configured mode and returns the flushed
// summary. Cancelling ctx stops the run at the next artist or tab boundary;
// the summary is still written and ErrInterrupted returned.
func (e *Engine) Run(ctx context.Context) (*model.RunSummary, error) {
	runID := e.newRunID()
	state := newRunState(runID, e.cfg.Mode, e.deps.Clock, e.cfg.Snapshot, e.deps.Observer, e.logger)
	e.current.Store(state)
	logger := e.logger.With(zap.String("run_id", runID), zap.String("mode", string(e.cfg.Mode)))
	logger.Info("run started",
		zap.String("start_letter", e.cfg.Letters.Start),
		zap.String("end_letter", e.cfg.Letters.End),
		zap.Int("workers", e.cfg.Workers))

	jobs := make(chan job)
	var disc Discoverer
	if e.cfg.Mode.Scrapes() {
		var err error
		disc, err = e.deps.Discover(state, e.knownHook(ctx, state, jobs))
		if err != nil {
			return e.abort(ctx, state, logger, fmt.Errorf("build discoverer: %w", err))
		}
	}
	adaptive, err := e.newAdaptivePacer()
	if err != nil {
		return e.abort(ctx, state, logger, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		if disc == nil {
			e.produceLocal(ctx, state, jobs)
			return nil
		}
		for a := range disc.ListArtists(ctx, e.cfg.Letters) {
			if !send(ctx, jobs, job{artist: a}) {
				break
			}
		}
		return nil
	})
	for i := range e.cfg.Workers {
		w := &worker{
			engine:   e,
			disc:     disc,
			state:    state,
			pacer:    crawler.NewPacer(e.cfg.PacingDelay),
			adaptive: adaptive,
			logger:   logger.With(zap.Int("worker", i)),
		}
		g.Go(func() error {
			w.run(ctx, jobs)
			return nil
		})
	}
	_ = g.Wait()

	interrupted := ctx.Err() != nil
	summary := state.finish(interrupted)
	e.flush(summary)
	logger.Info("run finished",
		zap.Bool("interrupted", interrupted),
		zap.Int("artists_processed", summary.ArtistsProcessed),
		zap.Int("artists_skipped", summary.ArtistsSkipped),
		zap.Int("tabs_downloaded", summary.TabsDownloaded),
		zap.Int("tabs_already_present", summary.TabsPresent),
		zap.Int("errors", summary.ErrorCount),
		zap.Duration("elapsed", elapsed(state)))
	if adaptive != nil {
		stats := adaptive.Stats()
		logger.Info("adaptive delay",
			zap.Duration("delay", stats.Delay),
			zap.Int("downloads", stats.Total),
			zap.Int("failures", stats.Failures),
			zap.Float64("recent_failure_rate", stats.RecentRate))
	}

	switch {
	case interrupted:
		return summary, ErrInterrupted
	case state.nothingProcessed(e.cfg.Mode):
		return summary, ErrNothingProcessed
	}
	return summary, nil
}

// abort ends a run that failed before any artist was queued. The error is
// recorded and the summary flushed like any other run.
func (e *Engine) abort(ctx context.Context, state *RunState, logger *zap.Logger, err error) (*model.RunSummary, error) {
	state.RecordError(model.ErrorRecord{
		URL:     e.cfg.Letters.Start + "-" + e.cfg.Letters.End,
		Stage:   StageScrape,
		Kind:    errorKind(err),
		Message: err.Error(),
	})
	summary := state.finish(ctx.Err() != nil)
	e.flush(summary)
	logger.Error("run aborted", zap.Error(err))
	return summary, err
}

func (e *Engine) newAdaptivePacer() (*crawler.AdaptivePacer, error) {
	if e.cfg.AdaptiveDelay == nil || e.cfg.Workers < 2 || !e.cfg.Mode.Downloads() {
		return nil, nil
	}
	p, err := crawler.NewAdaptivePacer(*e.cfg.AdaptiveDelay, e.deps.Pauser)
	if err != nil {
		return nil, fmt.Errorf("adaptive delay: %w", err)
	}
	return p, nil
}

// Progress returns a snapshot of the latest run, or nil before the first.
func (e *Engine) Progress() *model.RunSummary {
	state := e.current.Load()
	if state == nil {
		return nil
	}
	return state.Snapshot()
}

// job is one artist handed to a worker. fromDisk marks artists whose record
// was loaded instead of scraped.
type job struct {
	artist   *model.Artist
	fromDisk bool
}

// knownHook reports artists whose record is already on disk when
// SkipExistingBands is set. In modes that download, their stored record is
// queued directly so missing tabs are still fetched.
func (e *Engine) knownHook(ctx context.Context, state *RunState, jobs chan<- job) func(*model.Artist) bool {
	return func(a *model.Artist) bool {
		if !e.cfg.SkipExistingBands || !e.deps.Store.HasArtist(a.ID) {
			return false
		}
		if !e.cfg.Mode.Downloads() {
			state.artistSkipped(a)
			return true
		}
		rec, err := e.deps.Store.LoadArtist(a.ID)
		if err != nil {
			state.RecordError(model.ErrorRecord{
				ArtistID: a.ID, URL: a.URL, Stage: StageLoad, Kind: errorKind(err), Message: err.Error(),
			})
			return false
		}
		send(ctx, jobs, job{artist: rec, fromDisk: true})
		return true
	}
}

func (e *Engine) produceLocal(ctx context.Context, state *RunState, jobs chan<- job) {
	paths, err := store.ListArtistFiles(e.cfg.LocalFilesDir)
	if err != nil {
		state.RecordError(model.ErrorRecord{URL: e.cfg.LocalFilesDir, Stage: StageLoad, Kind: errorKind(err), Message: err.Error()})
		return
	}
	taken := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		a, err := store.LoadArtistFile(path)
		if err != nil {
			state.RecordError(model.ErrorRecord{URL: path, Stage: StageLoad, Kind: errorKind(err), Message: err.Error()})
			continue
		}
		if !e.cfg.Letters.Contains(a.Name) {
			continue
		}
		if e.cfg.MaxBands > 0 && taken >= e.cfg.MaxBands {
			return
		}
		taken++
		if !send(ctx, jobs, job{artist: a, fromDisk: true}) {
			return
		}
	}
}

func (e *Engine) flush(summary *model.RunSummary) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	for _, name := range e.summaryFiles() {
		if err := e.deps.Store.WriteSummary(name, summary); err != nil {
			e.logger.Error("write summary failed", zap.String("file", name), zap.Error(err))
		}
	}
}

func (e *Engine) checkpoint(state *RunState) {
	if !e.cfg.Checkpoint {
		return
	}
	e.flush(state.Snapshot())
}

func (e *Engine) summaryFiles() []string {
	switch e.cfg.Mode {
	case model.ModeScrapeOnly:
		return []string{store.BandsSummaryFile}
	case model.ModeDownloadOnly:
		return []string{store.DownloadSummaryFile}
	}
	return []string{store.BandsSummaryFile, store.DownloadSummaryFile}
}

func (e *Engine) newRunID() string {
	if e.deps.IDs == nil {
		return fmt.Sprintf("run-%d", e.deps.Clock.Now().UnixNano())
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		e.logger.Warn("run id generation failed", zap.Error(err))
		return fmt.Sprintf("run-%d", e.deps.Clock.Now().UnixNano())
	}
	return id
}

func send(ctx context.Context, jobs chan<- job, j job) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case jobs <- j:
		return true
	case <-ctx.Done():
		return false
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
