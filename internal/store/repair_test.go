package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hashsha "github.com/JakeFAU/tab-archiver/internal/hash/sha256"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

type failingHasher struct{}

func (failingHasher) HashFile(string) (string, error) { return "", errors.New("boom") }

func seedPowerTab(t *testing.T, s *Store, ext string, content []byte) (*model.Artist, string) {
	t.Helper()
	a := model.NewArtist("77", "Band", "https://example.test/artist/77")
	tab := &model.TabRef{ID: "5", Title: "Song", Type: model.TypePower, URL: "https://example.test/tab/5"}
	a.AddTab(tab)
	rel, err := s.SaveTabFile(a, tab, content, ext)
	require.NoError(t, err)
	require.NoError(t, s.SaveArtist(a))
	return a, rel
}

func TestRepairRenamesAndUpdatesRecord(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, rel := seedPowerTab(t, s, "gp5", []byte("ptab-data"))
	require.Equal(t, "Band_77/Song_POWER_5.gp5", rel)

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, RepairAction{
		From: "Band_77/Song_POWER_5.gp5", To: "Band_77/Song_POWER_5.ptb",
		Action: ActionRenamed, ArtistID: "77", TabID: "5",
	}, report.Actions[0])
	assert.Equal(t, 1, report.RecordsUpdated)

	assert.FileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"))
	assert.NoFileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.gp5"))

	a, err := s.LoadArtist("77")
	require.NoError(t, err)
	assert.Equal(t, "Band_77/Song_POWER_5.ptb", a.Tabs["5"].FilePath)

	again, err := s.RepairExtensions(hashsha.New(), RepairOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
}

func TestRepairLegacyPWRName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	dir := filepath.Join(s.Root(), "Old_12")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Tune_PWR_3.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Other_TAB_4.txt"), []byte("x"), 0o600))

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, "12", report.Actions[0].ArtistID)
	assert.Zero(t, report.RecordsUpdated)
	assert.FileExists(t, filepath.Join(dir, "Tune_PWR_3.ptb"))
	assert.FileExists(t, filepath.Join(dir, "Other_TAB_4.txt"))
}

func TestRepairDryRunChangesNothing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, rel := seedPowerTab(t, s, "gp5", []byte("ptab-data"))
	before, err := os.ReadFile(s.RecordPath("77"))
	require.NoError(t, err)

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, ActionRenamed, report.Actions[0].Action)
	assert.FileExists(t, filepath.Join(s.Root(), filepath.FromSlash(rel)))

	after, err := os.ReadFile(s.RecordPath("77"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRepairCollisionSkippedWithoutDestructive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedPowerTab(t, s, "gp5", []byte("same"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"), []byte("same"), 0o600))

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, ActionSkipped, report.Actions[0].Action)
	assert.FileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.gp5"))
}

func TestRepairDestructiveIdenticalDropsDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedPowerTab(t, s, "gp5", []byte("same"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"), []byte("same"), 0o600))

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{Destructive: true})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, ActionRemovedDuplicate, report.Actions[0].Action)
	assert.NoFileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.gp5"))
	assert.FileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"))

	a, err := s.LoadArtist("77")
	require.NoError(t, err)
	assert.Equal(t, "Band_77/Song_POWER_5.ptb", a.Tabs["5"].FilePath)
}

func TestRepairDestructiveDifferentDeletesBoth(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedPowerTab(t, s, "gp5", []byte("one"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"), []byte("two"), 0o600))

	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{Destructive: true})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, ActionDeletedBoth, report.Actions[0].Action)
	assert.NoFileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.gp5"))
	assert.NoFileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"))

	a, err := s.LoadArtist("77")
	require.NoError(t, err)
	assert.Empty(t, a.Tabs["5"].FilePath)
}

func TestRepairHashFailureReported(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedPowerTab(t, s, "gp5", []byte("one"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Band_77", "Song_POWER_5.ptb"), []byte("two"), 0o600))

	report, err := s.RepairExtensions(failingHasher{}, RepairOptions{Destructive: true})
	require.NoError(t, err)
	assert.Empty(t, report.Actions)
	require.Len(t, report.Errors, 1)
	assert.FileExists(t, filepath.Join(s.Root(), "Band_77", "Song_POWER_5.gp5"))
}

func TestRepairSkipRecords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedPowerTab(t, s, "gp5", []byte("x"))
	report, err := s.RepairExtensions(hashsha.New(), RepairOptions{SkipRecords: true})
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Zero(t, report.RecordsUpdated)

	a, err := s.LoadArtist("77")
	require.NoError(t, err)
	assert.Equal(t, "Band_77/Song_POWER_5.gp5", a.Tabs["5"].FilePath)
}
