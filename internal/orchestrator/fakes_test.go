package orchestrator

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/tab-archiver/internal/discover"
	"github.com/JakeFAU/tab-archiver/internal/extract"
	"github.com/JakeFAU/tab-archiver/internal/model"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

// fakeSite serves a static artist listing.
type fakeSite struct {
	mu      sync.Mutex
	artists []*model.Artist
	tabs    map[string][]*model.TabRef
	listed  []string
}

func (s *fakeSite) factory() DiscovererFactory {
	return func(rec discover.ErrorRecorder, known func(*model.Artist) bool) (Discoverer, error) {
		return &fakeDiscoverer{site: s, rec: rec, known: known}, nil
	}
}

func (s *fakeSite) listedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.listed)
}

type fakeDiscoverer struct {
	site  *fakeSite
	rec   discover.ErrorRecorder
	known func(*model.Artist) bool
}

func (d *fakeDiscoverer) ListArtists(ctx context.Context, _ model.LetterRange) iter.Seq[*model.Artist] {
	return func(yield func(*model.Artist) bool) {
		for _, tmpl := range d.site.artists {
			if ctx.Err() != nil {
				return
			}
			a := model.NewArtist(tmpl.ID, tmpl.Name, tmpl.URL)
			if d.known != nil && d.known(a) {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

func (d *fakeDiscoverer) ListTabs(ctx context.Context, a *model.Artist) iter.Seq[*model.TabRef] {
	return func(yield func(*model.TabRef) bool) {
		d.site.mu.Lock()
		d.site.listed = append(d.site.listed, a.ID)
		tabs := d.site.tabs[a.ID]
		d.site.mu.Unlock()
		for _, tmpl := range tabs {
			if ctx.Err() != nil {
				return
			}
			tab := *tmpl
			if !yield(&tab) {
				return
			}
		}
	}
}

// fakeExtractor returns canned content by tab type.
type fakeExtractor struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	onCall func(tabID string)
}

func (f *fakeExtractor) Extract(ctx context.Context, tab *model.TabRef) (*extract.Content, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tab.ID)
	hook := f.onCall
	err := f.errs[tab.ID]
	f.mu.Unlock()

	if hook != nil {
		hook(tab.ID)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !tab.Type.Downloadable() {
		return nil, &extract.ExtractError{Kind: extract.KindSkipped, TabID: tab.ID, URL: tab.URL}
	}
	if tab.Type.IsBinary() {
		return &extract.Content{Body: []byte("GP-" + tab.ID), Binary: true, Ext: "gp5"}, nil
	}
	return &extract.Content{
		Body:     []byte("text " + tab.ID),
		Ext:      "txt",
		Metadata: &model.Metadata{Author: "ann"},
	}, nil
}

func (f *fakeExtractor) callIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// flakyStore fails tab writes for chosen tab ids.
type flakyStore struct {
	*store.Store
	failTabs map[string]bool
}

func (s *flakyStore) SaveTabFile(a *model.Artist, tab *model.TabRef, content []byte, ext string) (string, error) {
	if s.failTabs[tab.ID] {
		return "", &store.PersistenceError{Kind: store.KindIOFailure, Op: "write", Path: tab.ID, Cause: context.DeadlineExceeded}
	}
	return s.Store.SaveTabFile(a, tab, content, ext)
}

func newTab(id, title string, typ model.TabType) *model.TabRef {
	return &model.TabRef{ID: id, Title: title, Type: typ, URL: "https://example.test/tab/" + id}
}

func newSite() *fakeSite {
	return &fakeSite{
		artists: []*model.Artist{
			model.NewArtist("1", "Alpha", "https://example.test/artist/alpha-1"),
			model.NewArtist("2", "Beta", "https://example.test/artist/beta-2"),
			model.NewArtist("3", "Gamma", "https://example.test/artist/gamma-3"),
		},
		tabs: map[string][]*model.TabRef{
			"1": {newTab("11", "Song 11", model.TypeChords), newTab("12", "Song 12", model.TypePro), newTab("13", "Song 13", model.TypeVideo)},
			"2": {newTab("21", "Song 21", model.TypeTab), newTab("22", "Song 22", model.TypeBass), newTab("23", "Song 23", model.TypeChords)},
			"3": {newTab("31", "Song 31", model.TypeChords)},
		},
	}
}
