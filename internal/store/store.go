package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/model"
)

// Summary file names.
const (
	BandsSummaryFile    = "bands_summary.json"
	DownloadSummaryFile = "download_summary.json"
)

const (
	filePerm = 0o644
	dirPerm  = 0o750
)

var recordName = regexp.MustCompile(`^band_(.+)\.json$`)

// Store is the archive rooted at one directory.
type Store struct {
	root   string
	logger *zap.Logger
}

// New opens root for writing, creating it when missing.
func New(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ioErr("open", root, errors.New("output directory is required"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(root, dirPerm); mkErr != nil {
			return nil, ioErr("create", root, mkErr)
		}
	case err != nil:
		return nil, ioErr("stat", root, err)
	case !info.IsDir():
		return nil, ioErr("open", root, errors.New("not a directory"))
	}

	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, ioErr("probe", root, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, ioErr("probe", root, err)
	}

	return &Store{root: root, logger: logger}, nil
}

// Root returns the archive directory.
func (s *Store) Root() string { return s.root }

// RecordPath returns the absolute path of an artist record.
func (s *Store) RecordPath(artistID string) string {
	return filepath.Join(s.root, RecordFileName(artistID))
}

// RecordFileName names the record file for an artist id.
func RecordFileName(artistID string) string {
	return "band_" + SanitizeName(artistID, "unknown") + ".json"
}

// ArtistDir returns the content directory of an artist, relative to the root.
func ArtistDir(a *model.Artist) string {
	return SanitizeName(a.Name, FallbackArtist) + "_" + SanitizeName(a.ID, "unknown")
}

// TabBaseName returns the file name of a tab without its extension.
func TabBaseName(tab *model.TabRef) string {
	return SanitizeName(tab.Title, FallbackTitle) + "_" +
		SanitizeName(string(tab.Type), string(model.TypeUnknown)) + "_" +
		SanitizeName(tab.ID, "unknown")
}

// HasArtist reports whether a record exists for the id.
func (s *Store) HasArtist(artistID string) bool {
	return nonEmptyFile(s.RecordPath(artistID))
}

// SaveArtist writes the artist record and ensures its content directory
// exists. Output is deterministic for equal input.
func (s *Store) SaveArtist(a *model.Artist) error {
	if a == nil || a.ID == "" {
		return ioErr("save", s.root, errors.New("artist id is required"))
	}
	if a.Tabs == nil {
		a.Tabs = make(map[string]*model.TabRef)
	}
	dir := filepath.Join(s.root, ArtistDir(a))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return ioErr("create", dir, err)
	}

	data, err := encodeJSON(a)
	if err != nil {
		return ioErr("encode", s.RecordPath(a.ID), err)
	}
	path := s.RecordPath(a.ID)
	if err := writeFileAtomic(path, data, filePerm); err != nil {
		return ioErr("write", path, err)
	}
	s.logger.Debug("artist record saved", zap.String("artist_id", a.ID), zap.Int("tabs", len(a.Tabs)))
	return nil
}

// LoadArtist reads the record of artistID from the archive.
func (s *Store) LoadArtist(artistID string) (*model.Artist, error) {
	return LoadArtistFile(s.RecordPath(artistID))
}

// LoadArtistFile decodes one artist record.
func LoadArtistFile(path string) (*model.Artist, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from the archive listing
	if err != nil {
		return nil, ioErr("read", path, err)
	}
	var a model.Artist
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &PersistenceError{Kind: KindCorruptRecord, Op: "decode", Path: path, Cause: err}
	}
	if a.ID == "" {
		return nil, &PersistenceError{Kind: KindCorruptRecord, Op: "decode", Path: path, Cause: errors.New("missing artist id")}
	}
	if a.Tabs == nil {
		a.Tabs = make(map[string]*model.TabRef)
	}
	for id, tab := range a.Tabs {
		if tab == nil {
			delete(a.Tabs, id)
			continue
		}
		if tab.ID == "" {
			tab.ID = id
		}
	}
	return &a, nil
}

// ListArtistFiles returns the record files under dir ordered by artist id.
func ListArtistFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioErr("list", dir, err)
	}
	type rec struct{ id, path string }
	var recs []rec
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := recordName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		recs = append(recs, rec{id: m[1], path: filepath.Join(dir, e.Name())})
	}
	slices.SortFunc(recs, func(a, b rec) int { return model.CompareIDs(a.id, b.id) })
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.path
	}
	return out, nil
}

// SaveTabFile writes tab content under the artist directory and sets
// tab.FilePath to the relative location.
func (s *Store) SaveTabFile(a *model.Artist, tab *model.TabRef, content []byte, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "txt"
	}
	rel := filepath.Join(ArtistDir(a), TabBaseName(tab)+"."+ext)
	path := filepath.Join(s.root, rel)
	if err := writeFileAtomic(path, content, filePerm); err != nil {
		return "", ioErr("write", path, err)
	}
	tab.FilePath = filepath.ToSlash(rel)
	return tab.FilePath, nil
}

// TabFileExists reports whether the tab's recorded file is present and
// non-empty.
func (s *Store) TabFileExists(tab *model.TabRef) bool {
	if tab.FilePath == "" {
		return false
	}
	return nonEmptyFile(s.abs(tab.FilePath))
}

// FindTabFile looks for a non-empty file of this tab under any extension and
// returns its relative path.
func (s *Store) FindTabFile(a *model.Artist, tab *model.TabRef) (string, bool) {
	dir := ArtistDir(a)
	pattern := filepath.Join(s.root, dir, globEscape(TabBaseName(tab))+".*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}
	slices.Sort(matches)
	for _, m := range matches {
		if strings.Contains(filepath.Base(m), ".tmp-") || !nonEmptyFile(m) {
			continue
		}
		return filepath.ToSlash(filepath.Join(dir, filepath.Base(m))), true
	}
	return "", false
}

// WriteSummary writes a run summary beside the records.
func (s *Store) WriteSummary(name string, summary *model.RunSummary) error {
	path := filepath.Join(s.root, name)
	data, err := encodeJSON(summary)
	if err != nil {
		return ioErr("encode", path, err)
	}
	if err := writeFileAtomic(path, data, filePerm); err != nil {
		return ioErr("write", path, err)
	}
	return nil
}

func (s *Store) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
