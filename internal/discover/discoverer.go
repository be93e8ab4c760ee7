package discover

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

const defaultMaxPageFailures = 2

// Config controls pagination limits and which loader serves each page type.
type Config struct {
	BaseURL         string
	MaxBands        int
	MaxTabsPerBand  int
	TabTypes        model.TypeFilter
	RenderListings  bool
	RenderCatalog   bool
	MaxPageFailures int
}

// ErrorRecorder receives page failures that discovery skipped over.
type ErrorRecorder interface {
	RecordError(rec model.ErrorRecord)
}

// Option customises a Discoverer.
type Option func(*Discoverer)

// WithRecorder attaches the sink for skipped-page errors.
func WithRecorder(r ErrorRecorder) Option {
	return func(d *Discoverer) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithKnown installs a hook consulted for every listed artist. Artists for
// which it returns true are not yielded and do not count toward MaxBands.
func WithKnown(fn func(*model.Artist) bool) Option {
	return func(d *Discoverer) { d.known = fn }
}

// Discoverer paginates the artist index and tab catalogues.
type Discoverer struct {
	cfg      Config
	base     *url.URL
	fetcher  crawler.Fetcher
	recorder ErrorRecorder
	known    func(*model.Artist) bool
	logger   *zap.Logger
	yielded  atomic.Int64
}

type nopRecorder struct{}

func (nopRecorder) RecordError(model.ErrorRecord) {}

// New builds a Discoverer.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger, opts ...Option) (*Discoverer, error) {
	if fetcher == nil {
		return nil, errors.New("discover: fetcher is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("discover: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxPageFailures <= 0 {
		cfg.MaxPageFailures = defaultMaxPageFailures
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{
		cfg:      cfg,
		base:     base,
		fetcher:  fetcher,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ListArtists yields the artists of every bucket in r, in site order, until
// the pages run out or MaxBands artists have been yielded during the
// Discoverer's lifetime. Re-invoking restarts from the first page.
func (d *Discoverer) ListArtists(ctx context.Context, r model.LetterRange) iter.Seq[*model.Artist] {
	return func(yield func(*model.Artist) bool) {
		for _, letter := range r.Letters() {
			if !d.walkLetter(ctx, letter, yield) {
				return
			}
		}
	}
}

func (d *Discoverer) walkLetter(ctx context.Context, letter string, yield func(*model.Artist) bool) bool {
	failures := 0
	prevFirst := ""
	for page := 1; ; page++ {
		if ctx.Err() != nil || d.capReached() {
			return false
		}
		pageURL := ArtistIndexURL(d.base, letter, page)
		body, done, ok := d.fetchPage(ctx, pageURL, page, d.cfg.RenderListings, ArtistListMarker, "", &failures)
		if done {
			return ok
		}
		if body == nil {
			continue
		}
		artists, err := ParseArtistIndex(body, d.base)
		if err != nil {
			d.record(model.ErrorRecord{URL: pageURL, Stage: "discover.artists", Kind: "extract.malformed_page", Message: err.Error()})
			continue
		}
		if len(artists) == 0 || artists[0].ID == prevFirst {
			d.logger.Debug("artist index exhausted", zap.String("letter", letter), zap.Int("page", page))
			return true
		}
		prevFirst = artists[0].ID
		d.logger.Info("artist index page",
			zap.String("letter", letter),
			zap.Int("page", page),
			zap.Int("artists", len(artists)))
		for _, a := range artists {
			if d.capReached() {
				return false
			}
			if d.known != nil && d.known(a) {
				continue
			}
			if !d.take() || !yield(a) {
				return false
			}
		}
	}
}

// ListTabs yields an artist's eligible tabs in catalogue order: OFFICIAL and
// types outside the filter are dropped and at most MaxTabsPerBand are
// yielded.
func (d *Discoverer) ListTabs(ctx context.Context, artist *model.Artist) iter.Seq[*model.TabRef] {
	return func(yield func(*model.TabRef) bool) {
		count, failures := 0, 0
		prevFirst := ""
		seen := make(map[string]struct{})
		for page := 1; ; page++ {
			if ctx.Err() != nil {
				return
			}
			pageURL, err := CatalogURL(artist.URL, page)
			if err != nil {
				d.record(model.ErrorRecord{ArtistID: artist.ID, URL: artist.URL, Stage: "discover.tabs", Kind: "extract.malformed_page", Message: err.Error()})
				return
			}
			body, done, _ := d.fetchPage(ctx, pageURL, page, d.cfg.RenderCatalog, TabListMarker, artist.ID, &failures)
			if done {
				return
			}
			if body == nil {
				continue
			}
			tabs, err := ParseTabCatalog(body, d.base)
			if err != nil {
				d.record(model.ErrorRecord{ArtistID: artist.ID, URL: pageURL, Stage: "discover.tabs", Kind: "extract.malformed_page", Message: err.Error()})
				continue
			}
			if len(tabs) == 0 || tabs[0].ID == prevFirst {
				return
			}
			prevFirst = tabs[0].ID
			for _, tab := range tabs {
				if _, dup := seen[tab.ID]; dup {
					continue
				}
				seen[tab.ID] = struct{}{}
				if !d.cfg.TabTypes.Allows(tab.Type) {
					continue
				}
				if d.cfg.MaxTabsPerBand > 0 && count >= d.cfg.MaxTabsPerBand {
					return
				}
				count++
				if !yield(tab) {
					return
				}
			}
			if d.cfg.MaxTabsPerBand > 0 && count >= d.cfg.MaxTabsPerBand {
				return
			}
		}
	}
}

// fetchPage loads one listing page. It reports done when pagination should
// stop (ok tells the caller whether to continue with the next bucket), or a
// nil body when the page failed and was skipped.
func (d *Discoverer) fetchPage(
	ctx context.Context,
	pageURL string,
	page int,
	render bool,
	marker string,
	artistID string,
	failures *int,
) (body []byte, done bool, ok bool) {
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL, Render: render, WaitSelector: marker})
	if err == nil {
		*failures = 0
		return resp.Body, false, true
	}
	if ctx.Err() != nil {
		return nil, true, false
	}
	switch {
	case crawler.IsTerminalNotFound(err):
		d.logger.Debug("pagination ended by redirect", zap.String("url", pageURL))
		return nil, true, true
	case page > 1 && errors.Is(err, crawler.ErrNotReady):
		d.logger.Debug("pagination ended on empty page", zap.String("url", pageURL))
		return nil, true, true
	}
	stage := "discover.artists"
	if artistID != "" {
		stage = "discover.tabs"
	}
	d.logger.Warn("listing page skipped", zap.String("url", pageURL), zap.Int("page", page), zap.Error(err))
	d.record(model.ErrorRecord{
		ArtistID: artistID,
		URL:      pageURL,
		Stage:    stage,
		Kind:     crawler.ErrorKind(err),
		Message:  err.Error(),
	})
	*failures++
	if *failures >= d.cfg.MaxPageFailures {
		return nil, true, true
	}
	return nil, false, true
}

func (d *Discoverer) record(rec model.ErrorRecord) {
	d.recorder.RecordError(rec)
}

func (d *Discoverer) capReached() bool {
	return d.cfg.MaxBands > 0 && d.yielded.Load() >= int64(d.cfg.MaxBands)
}

func (d *Discoverer) take() bool {
	if d.cfg.MaxBands <= 0 {
		return true
	}
	return d.yielded.Add(1) <= int64(d.cfg.MaxBands)
}
