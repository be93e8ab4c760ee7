package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Repair actions.
const (
	ActionRenamed          = "renamed"
	ActionRemovedDuplicate = "removed_duplicate"
	ActionDeletedBoth      = "deleted_both"
	ActionSkipped          = "exists_skip"
)

var (
	powerFile = regexp.MustCompile(`(?i)^(.+)_(?:POWER|PWR)_(\d+)\.([^.]+)$`)
	artistDir = regexp.MustCompile(`_(\d+)$`)
)

// RepairOptions tunes RepairExtensions.
type RepairOptions struct {
	DryRun      bool
	Destructive bool
	// SkipRecords leaves band_{id}.json files untouched.
	SkipRecords bool
}

// RepairAction is one file the repair touched or would touch.
type RepairAction struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Action   string `json:"action"`
	ArtistID string `json:"artist_id,omitempty"`
	TabID    string `json:"tab_id"`
}

// RepairReport summarises a repair pass.
type RepairReport struct {
	Scanned        int            `json:"scanned"`
	Actions        []RepairAction `json:"actions"`
	RecordsUpdated int            `json:"records_updated"`
	Errors         []string       `json:"errors,omitempty"`
}

// FileHasher digests a file on disk.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// RepairExtensions renames Power Tab files that were saved under a non-ptb
// extension and points their records at the new name.
func (s *Store) RepairExtensions(hasher FileHasher, opts RepairOptions) (RepairReport, error) {
	var report RepairReport
	var candidates []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		m := powerFile.FindStringSubmatch(d.Name())
		if m == nil || strings.EqualFold(m[3], "ptb") {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return report, ioErr("scan", s.root, err)
	}
	report.Scanned = len(candidates)

	for _, path := range candidates {
		action, err := s.repairFile(path, hasher, opts)
		if err != nil {
			s.logger.Warn("repair failed", zap.String("path", path), zap.Error(err))
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Actions = append(report.Actions, action)
		if opts.DryRun || opts.SkipRecords || action.Action == ActionSkipped || action.ArtistID == "" {
			continue
		}
		updated, err := s.updateRecordPath(action)
		if err != nil {
			s.logger.Warn("record update failed", zap.String("artist_id", action.ArtistID), zap.Error(err))
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if updated {
			report.RecordsUpdated++
		}
	}
	return report, nil
}

func (s *Store) repairFile(path string, hasher FileHasher, opts RepairOptions) (RepairAction, error) {
	m := powerFile.FindStringSubmatch(filepath.Base(path))
	action := RepairAction{From: s.rel(path), TabID: m[2]}
	if dm := artistDir.FindStringSubmatch(filepath.Base(filepath.Dir(path))); dm != nil {
		action.ArtistID = dm[1]
	}
	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".ptb"
	action.To = s.rel(target)

	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		action.Action = ActionRenamed
		if opts.DryRun {
			return action, nil
		}
		if err := os.Rename(path, target); err != nil {
			return action, ioErr("rename", path, err)
		}
		s.logger.Info("renamed power tab", zap.String("from", action.From), zap.String("to", action.To))
		return action, nil
	} else if err != nil {
		return action, ioErr("stat", target, err)
	}

	if !opts.Destructive {
		action.Action = ActionSkipped
		s.logger.Warn("target already exists, rerun with destructive mode to resolve", zap.String("target", action.To))
		return action, nil
	}

	same, err := sameContent(hasher, path, target)
	if err != nil {
		return action, err
	}
	if same {
		action.Action = ActionRemovedDuplicate
		if opts.DryRun {
			return action, nil
		}
		if err := os.Remove(path); err != nil {
			return action, ioErr("remove", path, err)
		}
		return action, nil
	}

	action.Action = ActionDeletedBoth
	action.To = ""
	if opts.DryRun {
		return action, nil
	}
	for _, p := range []string{path, target} {
		if err := os.Remove(p); err != nil {
			return action, ioErr("remove", p, err)
		}
	}
	return action, nil
}

func (s *Store) updateRecordPath(action RepairAction) (bool, error) {
	if !s.HasArtist(action.ArtistID) {
		return false, nil
	}
	a, err := s.LoadArtist(action.ArtistID)
	if err != nil {
		return false, err
	}
	tab, ok := a.Tabs[action.TabID]
	if !ok || tab.FilePath == "" {
		return false, nil
	}
	if filepath.Base(filepath.FromSlash(tab.FilePath)) != filepath.Base(filepath.FromSlash(action.From)) {
		return false, nil
	}
	switch action.Action {
	case ActionDeletedBoth:
		tab.FilePath = ""
	default:
		dir := filepath.Dir(filepath.FromSlash(tab.FilePath))
		tab.FilePath = filepath.ToSlash(filepath.Join(dir, filepath.Base(filepath.FromSlash(action.To))))
	}
	if err := s.SaveArtist(a); err != nil {
		return false, err
	}
	return true, nil
}

func sameContent(hasher FileHasher, a, b string) (bool, error) {
	ha, err := hashFile(hasher, a)
	if err != nil {
		return false, err
	}
	hb, err := hashFile(hasher, b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func hashFile(hasher FileHasher, path string) (string, error) {
	sum, err := hasher.HashFile(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

func (s *Store) rel(path string) string {
	r, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}
