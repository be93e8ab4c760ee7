package model

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// TabType is the site's short classification code for a tab.
type TabType string

// Known tab type codes.
const (
	TypeChords   TabType = "CRD"
	TypeTab      TabType = "TAB"
	TypePro      TabType = "PRO"
	TypeBass     TabType = "BASS"
	TypeDrum     TabType = "DRUM"
	TypeUkulele  TabType = "UKULELE"
	TypePiano    TabType = "PIANO"
	TypePower    TabType = "POWER"
	TypeVideo    TabType = "VIDEO"
	TypeOfficial TabType = "OFFICIAL"
	TypeUnknown  TabType = "Unknown"
)

var typeAliases = map[string]TabType{
	"CRD":        TypeChords,
	"CHORDS":     TypeChords,
	"CHORD":      TypeChords,
	"TAB":        TypeTab,
	"TABS":       TypeTab,
	"PRO":        TypePro,
	"GUITAR PRO": TypePro,
	"BASS":       TypeBass,
	"DRUM":       TypeDrum,
	"DRUMS":      TypeDrum,
	"UKULELE":    TypeUkulele,
	"UKE":        TypeUkulele,
	"PIANO":      TypePiano,
	"POWER":      TypePower,
	"PWR":        TypePower,
	"VIDEO":      TypeVideo,
	"VID":        TypeVideo,
	"OFFICIAL":   TypeOfficial,
}

// ParseTabType normalises a type label as printed by the site. Unrecognised
// labels are passed through upper-cased; an empty label is TypeUnknown.
func ParseTabType(label string) TabType {
	key := strings.ToUpper(strings.Join(strings.Fields(label), " "))
	if key == "" {
		return TypeUnknown
	}
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return TabType(key)
}

// IsBinary reports whether tabs of this type are served as downloadable files
// rather than rendered text.
func (t TabType) IsBinary() bool {
	return t == TypePro || t == TypePower
}

// Downloadable reports whether content of this type can ever be archived.
func (t TabType) Downloadable() bool {
	return t != TypeOfficial && t != TypeVideo
}

// Metadata is the optional header block shown above a tab. Fields the page
// does not carry stay unset.
type Metadata struct {
	Rating     *float64          `json:"rating,omitempty"`
	Votes      *int              `json:"votes,omitempty"`
	Difficulty string            `json:"difficulty,omitempty"`
	Tuning     string            `json:"tuning,omitempty"`
	Key        string            `json:"key,omitempty"`
	Capo       string            `json:"capo,omitempty"`
	Author     string            `json:"author,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Empty reports whether no field was captured.
func (m *Metadata) Empty() bool {
	if m == nil {
		return true
	}
	return m.Rating == nil && m.Votes == nil && m.Difficulty == "" && m.Tuning == "" &&
		m.Key == "" && m.Capo == "" && m.Author == "" && len(m.Extra) == 0
}

// TabRef points at one tab of an artist. FilePath is relative to the archive
// root and stays empty until the content has been written.
type TabRef struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Type     TabType   `json:"type"`
	URL      string    `json:"url"`
	FilePath string    `json:"file_path,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Artist is one catalogued performer and the tabs discovered for it.
type Artist struct {
	ID   string             `json:"id"`
	Name string             `json:"name"`
	URL  string             `json:"url"`
	Tabs map[string]*TabRef `json:"tabs"`
}

// NewArtist returns an artist with an initialised tab map.
func NewArtist(id, name, url string) *Artist {
	return &Artist{ID: id, Name: name, URL: url, Tabs: make(map[string]*TabRef)}
}

// AddTab attaches tab, replacing any previous entry with the same id.
func (a *Artist) AddTab(tab *TabRef) {
	if a.Tabs == nil {
		a.Tabs = make(map[string]*TabRef)
	}
	a.Tabs[tab.ID] = tab
}

// TabIDs lists tab ids in ascending numeric order, falling back to string
// order for non-numeric ids.
func (a *Artist) TabIDs() []string {
	ids := make([]string, 0, len(a.Tabs))
	for id := range a.Tabs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, CompareIDs)
	return ids
}

// CompareIDs orders site identifiers numerically when both parse as integers.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Mode selects which phases a run executes.
type Mode string

// Operating modes.
const (
	ModeCombined     Mode = "combined"
	ModeScrapeOnly   Mode = "scrape-only"
	ModeDownloadOnly Mode = "download-only"
)

// Scrapes reports whether the mode walks the site listings.
func (m Mode) Scrapes() bool { return m != ModeDownloadOnly }

// Downloads reports whether the mode fetches tab content.
func (m Mode) Downloads() bool { return m != ModeScrapeOnly }

// ErrorRecord is one non-fatal failure kept in the run summary.
type ErrorRecord struct {
	ArtistID string    `json:"artist_id,omitempty"`
	TabID    string    `json:"tab_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Stage    string    `json:"stage"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// ArtistSummary is the per-artist line of a run summary.
type ArtistSummary struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	TabCount        int    `json:"tab_count"`
	FilesDownloaded int    `json:"files_downloaded"`
}

// RunSummary aggregates one invocation.
type RunSummary struct {
	RunID            string                   `json:"run_id"`
	Mode             Mode                     `json:"mode"`
	StartedAt        time.Time                `json:"started_at"`
	FinishedAt       *time.Time               `json:"finished_at,omitempty"`
	Interrupted      bool                     `json:"interrupted"`
	ArtistsProcessed int                      `json:"artists_processed"`
	ArtistsSkipped   int                      `json:"artists_skipped"`
	TabsDiscovered   int                      `json:"tabs_discovered"`
	TabsDownloaded   int                      `json:"tabs_downloaded"`
	TabsPresent      int                      `json:"tabs_already_present"`
	TabsSkipped      int                      `json:"tabs_skipped"`
	ErrorCount       int                      `json:"error_count"`
	Artists          map[string]ArtistSummary `json:"artists"`
	Errors           []ErrorRecord            `json:"errors"`
	Config           map[string]any           `json:"config"`
}
