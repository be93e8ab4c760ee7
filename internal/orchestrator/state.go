package orchestrator

import (
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// artistResult is what one worker reports when it finishes an artist.
type artistResult struct {
	discovered int
	downloaded int
	present    int
	skipped    int
}

// RunState is the single mutable record of a run. Workers report into it at
// artist completion and on every recorded error; all access is serialised.
type RunState struct {
	mu       sync.Mutex
	summary  model.RunSummary
	clock    crawler.Clock
	observer Observer
	logger   *zap.Logger
}

func newRunState(runID string, mode model.Mode, clock crawler.Clock, snapshot map[string]any, observer Observer, logger *zap.Logger) *RunState {
	return &RunState{
		summary: model.RunSummary{
			RunID:     runID,
			Mode:      mode,
			StartedAt: clock.Now(),
			Artists:   make(map[string]model.ArtistSummary),
			Errors:    []model.ErrorRecord{},
			Config:    snapshot,
		},
		clock:    clock,
		observer: observer,
		logger:   logger,
	}
}

// RecordError appends a non-fatal failure to the summary.
func (s *RunState) RecordError(rec model.ErrorRecord) {
	if rec.At.IsZero() {
		rec.At = s.clock.Now()
	}
	s.mu.Lock()
	s.summary.Errors = append(s.summary.Errors, rec)
	s.summary.ErrorCount++
	s.mu.Unlock()

	s.observer.ErrorRecorded(rec.Stage, rec.Kind)
	s.logger.Warn("error recorded",
		zap.String("stage", rec.Stage),
		zap.String("kind", rec.Kind),
		zap.String("artist_id", rec.ArtistID),
		zap.String("tab_id", rec.TabID),
		zap.String("url", rec.URL),
		zap.String("message", rec.Message))
}

func (s *RunState) artistSkipped(a *model.Artist) {
	s.mu.Lock()
	s.summary.ArtistsSkipped++
	s.mu.Unlock()
	s.logger.Info("artist already archived", zap.String("artist_id", a.ID), zap.String("artist", a.Name))
}

func (s *RunState) artistDone(a *model.Artist, res artistResult) {
	files := 0
	for _, tab := range a.Tabs {
		if tab.FilePath != "" {
			files++
		}
	}
	s.mu.Lock()
	s.summary.ArtistsProcessed++
	s.summary.TabsDiscovered += res.discovered
	s.summary.TabsDownloaded += res.downloaded
	s.summary.TabsPresent += res.present
	s.summary.TabsSkipped += res.skipped
	s.summary.Artists[a.ID] = model.ArtistSummary{
		Name:            a.Name,
		URL:             a.URL,
		TabCount:        len(a.Tabs),
		FilesDownloaded: files,
	}
	s.mu.Unlock()
	s.observer.ArtistProcessed(string(s.summary.Mode))
}

// Snapshot returns a copy of the summary safe to serialise while workers
// keep reporting.
func (s *RunState) Snapshot() *model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *RunState) finish(interrupted bool) *model.RunSummary {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.FinishedAt = &now
	s.summary.Interrupted = interrupted
	return s.copyLocked()
}

func (s *RunState) copyLocked() *model.RunSummary {
	out := s.summary
	out.Artists = maps.Clone(s.summary.Artists)
	out.Errors = slices.Clone(s.summary.Errors)
	if out.Errors == nil {
		out.Errors = []model.ErrorRecord{}
	}
	out.Config = maps.Clone(s.summary.Config)
	if s.summary.FinishedAt != nil {
		t := *s.summary.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

func (s *RunState) nothingProcessed(mode model.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == model.ModeDownloadOnly {
		return s.summary.TabsDownloaded+s.summary.TabsPresent == 0
	}
	return s.summary.ArtistsProcessed+s.summary.ArtistsSkipped == 0
}

func elapsed(s *RunState) time.Duration {
	return s.clock.Now().Sub(s.summary.StartedAt)
}
