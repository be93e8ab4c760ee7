package orchestrator

import (
	"context"
	"iter"

	"github.com/JakeFAU/tab-archiver/internal/discover"
	"github.com/JakeFAU/tab-archiver/internal/extract"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// Discoverer lists artists and their tabs.
type Discoverer interface {
	ListArtists(ctx context.Context, r model.LetterRange) iter.Seq[*model.Artist]
	ListTabs(ctx context.Context, artist *model.Artist) iter.Seq[*model.TabRef]
}

// DiscovererFactory builds a Discoverer for one run. rec collects skipped
// pages; known reports artists that are already archived.
type DiscovererFactory func(rec discover.ErrorRecorder, known func(*model.Artist) bool) (Discoverer, error)

// Extractor fetches the archivable content of one tab.
type Extractor interface {
	Extract(ctx context.Context, tab *model.TabRef) (*extract.Content, error)
}

// Store persists records, tab files and summaries.
type Store interface {
	HasArtist(artistID string) bool
	LoadArtist(artistID string) (*model.Artist, error)
	SaveArtist(a *model.Artist) error
	SaveTabFile(a *model.Artist, tab *model.TabRef, content []byte, ext string) (string, error)
	TabFileExists(tab *model.TabRef) bool
	FindTabFile(a *model.Artist, tab *model.TabRef) (string, bool)
	WriteSummary(name string, summary *model.RunSummary) error
}

// Observer receives run-level events, typically for metrics.
type Observer interface {
	ArtistProcessed(mode string)
	TabArchived(tabType, outcome string)
	ErrorRecorded(stage, kind string)
}

// Tab outcomes reported to the Observer.
const (
	OutcomeDownloaded = "downloaded"
	OutcomePresent    = "present"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

type nopObserver struct{}

func (nopObserver) ArtistProcessed(string)       {}
func (nopObserver) TabArchived(string, string)   {}
func (nopObserver) ErrorRecorded(string, string) {}
