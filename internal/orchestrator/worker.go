package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/extract"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// worker processes artists one at a time with its own pacing. adaptive is
// shared by every worker of a run and may be nil.
type worker struct {
	engine   *Engine
	disc     Discoverer
	state    *RunState
	pacer    *crawler.Pacer
	adaptive *crawler.AdaptivePacer
	logger   *zap.Logger
}

func (w *worker) run(ctx context.Context, jobs <-chan job) {
	for j := range jobs {
		if ctx.Err() != nil {
			continue
		}
		w.processArtist(ctx, j)
	}
}

func (w *worker) processArtist(ctx context.Context, j job) {
	e := w.engine
	a := j.artist
	logger := w.logger.With(zap.String("artist_id", a.ID), zap.String("artist", a.Name))
	res := artistResult{}

	if !j.fromDisk {
		for tab := range w.disc.ListTabs(ctx, a) {
			a.AddTab(tab)
			res.discovered++
		}
		if ctx.Err() != nil {
			logger.Info("artist interrupted during listing, record not saved")
			return
		}
		logger.Info("artist tabs listed", zap.Int("tabs", res.discovered))
		if err := e.deps.Store.SaveArtist(a); err != nil {
			w.recordPersist(a, nil, err)
		}
	}

	if e.cfg.Mode.Downloads() {
		dirty := w.downloadTabs(ctx, a, &res)
		if dirty || (j.fromDisk && !e.deps.Store.HasArtist(a.ID)) {
			if err := e.deps.Store.SaveArtist(a); err != nil {
				w.recordPersist(a, nil, err)
			}
		}
	}

	w.state.artistDone(a, res)
	logger.Info("artist done",
		zap.Int("tabs", len(a.Tabs)),
		zap.Int("downloaded", res.downloaded),
		zap.Int("already_present", res.present))
	e.checkpoint(w.state)
}

// downloadTabs archives every eligible tab of a and reports whether the
// record changed.
func (w *worker) downloadTabs(ctx context.Context, a *model.Artist, res *artistResult) bool {
	e := w.engine
	dirty := false
	eligible := 0
	for _, id := range a.TabIDs() {
		if ctx.Err() != nil {
			return dirty
		}
		tab := a.Tabs[id]
		if !e.cfg.TabTypes.Allows(tab.Type) {
			continue
		}
		if e.cfg.MaxTabsPerBand > 0 && eligible >= e.cfg.MaxTabsPerBand {
			break
		}
		eligible++

		if !tab.Type.Downloadable() {
			res.skipped++
			e.deps.Observer.TabArchived(string(tab.Type), OutcomeSkipped)
			continue
		}
		if e.cfg.SkipExistingTabs {
			if e.deps.Store.TabFileExists(tab) {
				res.present++
				e.deps.Observer.TabArchived(string(tab.Type), OutcomePresent)
				continue
			}
			if rel, ok := e.deps.Store.FindTabFile(a, tab); ok {
				tab.FilePath = rel
				dirty = true
				res.present++
				e.deps.Observer.TabArchived(string(tab.Type), OutcomePresent)
				continue
			}
		}

		if err := w.pacer.Wait(ctx); err != nil {
			return dirty
		}
		if w.adaptive != nil {
			if err := w.adaptive.Wait(ctx); err != nil {
				return dirty
			}
		}
		if w.downloadTab(ctx, a, tab, res) {
			dirty = true
		}
	}
	return dirty
}

// downloadTab runs one extraction on a context that survives cancellation so
// an interrupt never leaves a half-written tab behind.
func (w *worker) downloadTab(ctx context.Context, a *model.Artist, tab *model.TabRef, res *artistResult) bool {
	e := w.engine
	tabCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TabTimeout)
	defer cancel()

	content, err := e.deps.Extractor.Extract(tabCtx, tab)
	if err != nil {
		if errors.Is(err, extract.ErrSkipped) {
			res.skipped++
			e.deps.Observer.TabArchived(string(tab.Type), OutcomeSkipped)
			w.logger.Debug("tab skipped", zap.String("tab_id", tab.ID), zap.String("type", string(tab.Type)))
			return false
		}
		e.deps.Observer.TabArchived(string(tab.Type), OutcomeFailed)
		w.recordOutcome(false)
		w.state.RecordError(model.ErrorRecord{
			ArtistID: a.ID,
			TabID:    tab.ID,
			URL:      tab.URL,
			Stage:    StageExtract,
			Kind:     errorKind(err),
			Message:  err.Error(),
		})
		return false
	}

	changed := false
	if !content.Metadata.Empty() {
		tab.Metadata = content.Metadata
		changed = true
	}
	rel, err := e.deps.Store.SaveTabFile(a, tab, content.Body, content.Ext)
	if err != nil {
		e.deps.Observer.TabArchived(string(tab.Type), OutcomeFailed)
		w.recordOutcome(false)
		w.recordPersist(a, tab, err)
		return changed
	}
	res.downloaded++
	e.deps.Observer.TabArchived(string(tab.Type), OutcomeDownloaded)
	w.recordOutcome(true)
	w.logger.Info("tab archived",
		zap.String("artist_id", a.ID),
		zap.String("tab_id", tab.ID),
		zap.String("type", string(tab.Type)),
		zap.String("file", rel),
		zap.Int("bytes", len(content.Body)))
	return true
}

// recordOutcome feeds a download result to the shared adaptive gap.
func (w *worker) recordOutcome(success bool) {
	if w.adaptive == nil {
		return
	}
	before := w.adaptive.Delay()
	if after := w.adaptive.Record(success); after != before {
		w.logger.Info("adaptive delay adjusted", zap.Duration("from", before), zap.Duration("to", after))
	}
}

func (w *worker) recordPersist(a *model.Artist, tab *model.TabRef, err error) {
	rec := model.ErrorRecord{
		ArtistID: a.ID,
		URL:      a.URL,
		Stage:    StagePersist,
		Kind:     errorKind(err),
		Message:  err.Error(),
	}
	if tab != nil {
		rec.TabID = tab.ID
		rec.URL = tab.URL
	}
	w.logger.Error("persist failed", zap.String("artist_id", a.ID), zap.Error(err))
	w.state.RecordError(rec)
}
