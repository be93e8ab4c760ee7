package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/discover"
	"github.com/JakeFAU/tab-archiver/internal/model"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func baseConfig(mode model.Mode) Config {
	return Config{
		Mode:              mode,
		SkipExistingBands: true,
		SkipExistingTabs:  true,
		Workers:           1,
		Snapshot:          map[string]any{"mode": string(mode)},
	}
}

func newEngine(t *testing.T, cfg Config, site *fakeSite, ex Extractor, st Store) *Engine {
	t.Helper()
	deps := Deps{
		Store: st,
		Clock: fixedClock{now: testNow},
		IDs:   fixedIDs{id: "run-1"},
	}
	if site != nil {
		deps.Discover = site.factory()
	}
	if ex != nil {
		deps.Extractor = ex
	}
	e, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return e
}

func newStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	s, err := store.New(dir, nil)
	require.NoError(t, err)
	return s
}

func readSummary(t *testing.T, path string) model.RunSummary {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sum model.RunSummary
	require.NoError(t, json.Unmarshal(data, &sum))
	return sum
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	st := newStore(t, t.TempDir())
	site := newSite()

	_, err := New(Config{}, Deps{Discover: site.factory()}, nil)
	require.Error(t, err)

	_, err = New(Config{Mode: model.ModeCombined}, Deps{Store: st, Discover: site.factory()}, nil)
	require.Error(t, err)

	_, err = New(Config{Mode: model.ModeScrapeOnly}, Deps{Store: st}, nil)
	require.Error(t, err)

	_, err = New(Config{Mode: model.ModeDownloadOnly}, Deps{Store: st, Extractor: &fakeExtractor{}}, nil)
	require.Error(t, err)

	e, err := New(Config{Mode: model.ModeScrapeOnly}, Deps{Store: st, Discover: site.factory()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.cfg.Workers)
	assert.Equal(t, defaultTabTimeout, e.cfg.TabTimeout)
	assert.Equal(t, model.LetterRange{Start: model.DigitsBucket, End: "z"}, e.cfg.Letters)
}

func TestRunCombinedArchivesTabs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	ex := &fakeExtractor{errs: map[string]error{
		"22": &crawler.FetchError{Kind: crawler.KindServerError, URL: "https://example.test/tab/22", StatusCode: 503},
	}}
	e := newEngine(t, baseConfig(model.ModeCombined), newSite(), ex, st)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.ArtistsProcessed)
	assert.Equal(t, 7, sum.TabsDiscovered)
	assert.Equal(t, 5, sum.TabsDownloaded)
	assert.Equal(t, 1, sum.TabsSkipped)
	assert.Equal(t, 1, sum.ErrorCount)
	assert.False(t, sum.Interrupted)
	require.NotNil(t, sum.FinishedAt)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, model.ErrorRecord{
		ArtistID: "2", TabID: "22", URL: "https://example.test/tab/22",
		Stage: StageExtract, Kind: "fetch.server_error",
		Message: sum.Errors[0].Message, At: testNow,
	}, sum.Errors[0])
	assert.Equal(t, model.ArtistSummary{
		Name: "Beta", URL: "https://example.test/artist/beta-2", TabCount: 3, FilesDownloaded: 2,
	}, sum.Artists["2"])

	alpha, err := st.LoadArtist("1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha_1/Song 11_CRD_11.txt", alpha.Tabs["11"].FilePath)
	assert.Equal(t, "ann", alpha.Tabs["11"].Metadata.Author)
	assert.Equal(t, "Alpha_1/Song 12_PRO_12.gp5", alpha.Tabs["12"].FilePath)
	assert.Empty(t, alpha.Tabs["13"].FilePath)
	assert.Equal(t, "GP-12", string(readFile(t, filepath.Join(dir, "Alpha_1", "Song 12_PRO_12.gp5"))))

	beta, err := st.LoadArtist("2")
	require.NoError(t, err)
	assert.Empty(t, beta.Tabs["22"].FilePath)

	bands := readSummary(t, filepath.Join(dir, store.BandsSummaryFile))
	downloads := readSummary(t, filepath.Join(dir, store.DownloadSummaryFile))
	assert.Equal(t, 5, bands.TabsDownloaded)
	assert.Equal(t, bands, downloads)
	assert.Equal(t, "combined", bands.Config["mode"])
}

func TestRunScrapeOnlyWritesRecordsWithoutContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	e := newEngine(t, baseConfig(model.ModeScrapeOnly), newSite(), nil, st)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ArtistsProcessed)
	assert.Equal(t, 7, sum.TabsDiscovered)
	assert.Zero(t, sum.TabsDownloaded)

	for _, id := range []string{"1", "2", "3"} {
		a, err := st.LoadArtist(id)
		require.NoError(t, err)
		for _, tab := range a.Tabs {
			assert.Empty(t, tab.FilePath)
		}
	}
	assert.DirExists(t, filepath.Join(dir, "Gamma_3"))
	assert.FileExists(t, filepath.Join(dir, store.BandsSummaryFile))
	assert.NoFileExists(t, filepath.Join(dir, store.DownloadSummaryFile))
}

func TestRunScrapeOnlySkipsKnownArtists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	require.NoError(t, st.SaveArtist(model.NewArtist("2", "Beta", "https://example.test/artist/beta-2")))
	site := newSite()
	e := newEngine(t, baseConfig(model.ModeScrapeOnly), site, nil, st)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ArtistsProcessed)
	assert.Equal(t, 1, sum.ArtistsSkipped)
	assert.Equal(t, []string{"1", "3"}, site.listedIDs())
}

func TestRunResumesAfterInterrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	site := newSite()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &fakeExtractor{onCall: func(id string) {
		if id == "22" {
			cancel()
		}
	}}
	sum, err := newEngine(t, baseConfig(model.ModeCombined), site, first, st).Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, []string{"11", "12", "21", "22"}, first.callIDs())
	assert.Equal(t, []string{"1", "2"}, site.listedIDs())
	assert.True(t, readSummary(t, filepath.Join(dir, store.BandsSummaryFile)).Interrupted)

	beta, err := st.LoadArtist("2")
	require.NoError(t, err)
	assert.NotEmpty(t, beta.Tabs["22"].FilePath, "in-flight tab completes")
	assert.Empty(t, beta.Tabs["23"].FilePath)
	assert.False(t, st.HasArtist("3"))

	alphaBefore := readFile(t, st.RecordPath("1"))

	second := &fakeExtractor{}
	sum, err = newEngine(t, baseConfig(model.ModeCombined), site, second, st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"23", "31"}, second.callIDs())
	assert.Equal(t, 3, sum.ArtistsProcessed)
	assert.Equal(t, 2, sum.TabsDownloaded)
	assert.Equal(t, 4, sum.TabsPresent)
	assert.Equal(t, alphaBefore, readFile(t, st.RecordPath("1")))
	assert.Equal(t, []string{"1", "2", "3"}, site.listedIDs(), "the interrupted artist is not listed again")

	beta, err = st.LoadArtist("2")
	require.NoError(t, err)
	assert.NotEmpty(t, beta.Tabs["23"].FilePath, "the interrupted artist's record is completed in place")
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	site := newSite()

	_, err := newEngine(t, baseConfig(model.ModeCombined), site, &fakeExtractor{}, st).Run(context.Background())
	require.NoError(t, err)
	records := map[string][]byte{}
	for _, id := range []string{"1", "2", "3"} {
		records[id] = readFile(t, st.RecordPath(id))
	}

	again := &fakeExtractor{}
	sum, err := newEngine(t, baseConfig(model.ModeCombined), site, again, st).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.callIDs())
	assert.Zero(t, sum.TabsDownloaded)
	assert.Equal(t, 6, sum.TabsPresent)
	assert.Equal(t, 1, sum.TabsSkipped)
	for id, want := range records {
		assert.Equal(t, want, readFile(t, st.RecordPath(id)), "artist %s", id)
	}
}

func TestRunAdoptsFilesMissingFromRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	a := model.NewArtist("1", "Alpha", "https://example.test/artist/alpha-1")
	a.AddTab(newTab("11", "Song 11", model.TypeChords))
	_, err := st.SaveTabFile(a, a.Tabs["11"], []byte("old"), "txt")
	require.NoError(t, err)
	a.Tabs["11"].FilePath = ""
	require.NoError(t, st.SaveArtist(a))

	local := dir
	cfg := baseConfig(model.ModeDownloadOnly)
	cfg.LocalFilesDir = local
	ex := &fakeExtractor{}
	sum, err := newEngine(t, cfg, nil, ex, st).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ex.callIDs())
	assert.Equal(t, 1, sum.TabsPresent)

	got, err := st.LoadArtist("1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha_1/Song 11_CRD_11.txt", got.Tabs["11"].FilePath)
}

func TestRunDownloadOnlyFromLocalRecords(t *testing.T) {
	t.Parallel()

	localDir, outDir := t.TempDir(), t.TempDir()
	local := newStore(t, localDir)
	for _, rec := range []struct {
		id, name string
		tabs     []*model.TabRef
	}{
		{"1", "Alpha", []*model.TabRef{newTab("11", "A", model.TypeChords), newTab("12", "B", model.TypePro)}},
		{"2", "beta", []*model.TabRef{newTab("21", "C", model.TypeTab)}},
		{"5", "Zed", []*model.TabRef{newTab("51", "D", model.TypeChords)}},
	} {
		a := model.NewArtist(rec.id, rec.name, "https://example.test/artist/"+rec.id)
		for _, tb := range rec.tabs {
			a.AddTab(tb)
		}
		require.NoError(t, local.SaveArtist(a))
	}
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "band_9.json"), []byte("{broken"), 0o600))
	localBefore := readFile(t, local.RecordPath("1"))

	cfg := baseConfig(model.ModeDownloadOnly)
	cfg.LocalFilesDir = localDir
	cfg.Letters = model.LetterRange{Start: "a", End: "b"}
	cfg.TabTypes = model.NewTypeFilter([]string{"chords", "tab"})
	out := newStore(t, outDir)
	ex := &fakeExtractor{}

	sum, err := newEngine(t, cfg, nil, ex, out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "21"}, ex.callIDs())
	assert.Equal(t, 2, sum.ArtistsProcessed)
	assert.Equal(t, 2, sum.TabsDownloaded)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, StageLoad, sum.Errors[0].Stage)
	assert.Equal(t, "persistence.corrupt_record", sum.Errors[0].Kind)

	alpha, err := out.LoadArtist("1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha_1/A_CRD_11.txt", alpha.Tabs["11"].FilePath)
	assert.Empty(t, alpha.Tabs["12"].FilePath)
	assert.False(t, out.HasArtist("5"))
	assert.FileExists(t, filepath.Join(outDir, store.DownloadSummaryFile))
	assert.NoFileExists(t, filepath.Join(outDir, store.BandsSummaryFile))
	assert.Equal(t, localBefore, readFile(t, local.RecordPath("1")))
}

func TestRunDownloadOnlyCaps(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	local := newStore(t, localDir)
	for _, id := range []string{"1", "2"} {
		a := model.NewArtist(id, "Band "+id, "")
		a.AddTab(newTab(id+"1", "x", model.TypeChords))
		a.AddTab(newTab(id+"2", "y", model.TypeChords))
		require.NoError(t, local.SaveArtist(a))
	}

	cfg := baseConfig(model.ModeDownloadOnly)
	cfg.LocalFilesDir = localDir
	cfg.MaxBands = 1
	cfg.MaxTabsPerBand = 1
	ex := &fakeExtractor{}
	sum, err := newEngine(t, cfg, nil, ex, local).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, ex.callIDs())
	assert.Equal(t, 1, sum.ArtistsProcessed)
}

func TestRunDownloadOnlyNothingToDo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := baseConfig(model.ModeDownloadOnly)
	cfg.LocalFilesDir = filepath.Join(dir, "missing")
	sum, err := newEngine(t, cfg, nil, &fakeExtractor{}, newStore(t, dir)).Run(context.Background())
	require.ErrorIs(t, err, ErrNothingProcessed)
	assert.Equal(t, 1, sum.ErrorCount)
	assert.FileExists(t, filepath.Join(dir, store.DownloadSummaryFile))
}

func TestRunNothingProcessed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	site := &fakeSite{tabs: map[string][]*model.TabRef{}}
	sum, err := newEngine(t, baseConfig(model.ModeScrapeOnly), site, nil, newStore(t, dir)).Run(context.Background())
	require.ErrorIs(t, err, ErrNothingProcessed)
	assert.Zero(t, sum.ArtistsProcessed)
	assert.Equal(t, []model.ErrorRecord{}, readSummary(t, filepath.Join(dir, store.BandsSummaryFile)).Errors)
}

func TestRunPersistFailureDoesNotHalt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := &flakyStore{Store: newStore(t, dir), failTabs: map[string]bool{"11": true}}
	sum, err := newEngine(t, baseConfig(model.ModeCombined), newSite(), &fakeExtractor{}, st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.TabsDownloaded)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, StagePersist, sum.Errors[0].Stage)
	assert.Equal(t, "persistence.io_failure", sum.Errors[0].Kind)
	assert.Equal(t, "11", sum.Errors[0].TabID)
}

func TestRunCheckpointsAfterEachArtist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := newStore(t, dir)
	cfg := baseConfig(model.ModeCombined)
	cfg.Checkpoint = true

	var mu sync.Mutex
	var raw []byte
	ex := &fakeExtractor{}
	ex.onCall = func(id string) {
		if id != "21" {
			return
		}
		data, _ := os.ReadFile(filepath.Join(dir, store.BandsSummaryFile))
		mu.Lock()
		raw = data
		mu.Unlock()
	}
	_, err := newEngine(t, cfg, newSite(), ex, st).Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var mid model.RunSummary
	require.NoError(t, json.Unmarshal(raw, &mid))
	assert.Equal(t, 1, mid.ArtistsProcessed)
	assert.Nil(t, mid.FinishedAt)
	assert.Contains(t, mid.Artists, "1")
}

func TestRunWorkerPool(t *testing.T) {
	t.Parallel()

	site := &fakeSite{tabs: map[string][]*model.TabRef{}}
	for i := 1; i <= 20; i++ {
		id := strconv.Itoa(i)
		site.artists = append(site.artists, model.NewArtist(id, "Band "+id, "https://example.test/artist/"+id))
		site.tabs[id] = []*model.TabRef{
			newTab(id+"01", "One", model.TypeChords),
			newTab(id+"02", "Two", model.TypePro),
		}
	}
	dir := t.TempDir()
	st := newStore(t, dir)
	cfg := baseConfig(model.ModeCombined)
	cfg.Workers = 4
	cfg.Checkpoint = true
	ex := &fakeExtractor{}

	sum, err := newEngine(t, cfg, site, ex, st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, sum.ArtistsProcessed)
	assert.Equal(t, 40, sum.TabsDownloaded)
	assert.Len(t, ex.callIDs(), 40)
	assert.Len(t, sum.Artists, 20)
	files, err := store.ListArtistFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 20)
}

func TestRunPacesTabDownloads(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(model.ModeCombined)
	cfg.PacingDelay = 40 * time.Millisecond
	site := &fakeSite{
		artists: []*model.Artist{model.NewArtist("1", "Alpha", "https://example.test/artist/1")},
		tabs: map[string][]*model.TabRef{"1": {
			newTab("1", "a", model.TypeChords), newTab("2", "b", model.TypeChords), newTab("3", "c", model.TypeChords),
		}},
	}
	start := time.Now()
	_, err := newEngine(t, cfg, site, &fakeExtractor{}, newStore(t, t.TempDir())).Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestProgressTracksLatestRun(t *testing.T) {
	t.Parallel()

	e := newEngine(t, baseConfig(model.ModeScrapeOnly), newSite(), nil, newStore(t, t.TempDir()))
	assert.Nil(t, e.Progress())
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	p := e.Progress()
	require.NotNil(t, p)
	assert.Equal(t, 3, p.ArtistsProcessed)
	assert.NotNil(t, p.FinishedAt)
}

func TestRunFlushesSummaryWhenDiscovererFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	deps := Deps{
		Store: newStore(t, dir),
		Clock: fixedClock{now: testNow},
		IDs:   fixedIDs{id: "run-1"},
		Discover: func(discover.ErrorRecorder, func(*model.Artist) bool) (Discoverer, error) {
			return nil, errors.New("no browser")
		},
		Extractor: &fakeExtractor{},
	}
	e, err := New(baseConfig(model.ModeCombined), deps, zap.NewNop())
	require.NoError(t, err)

	sum, err := e.Run(context.Background())
	require.ErrorContains(t, err, "no browser")
	require.NotNil(t, sum)
	require.NotNil(t, sum.FinishedAt)
	assert.Equal(t, 1, sum.ErrorCount)

	for _, name := range []string{store.BandsSummaryFile, store.DownloadSummaryFile} {
		onDisk := readSummary(t, filepath.Join(dir, name))
		require.Len(t, onDisk.Errors, 1, name)
		assert.Equal(t, StageScrape, onDisk.Errors[0].Stage)
		assert.Contains(t, onDisk.Errors[0].Message, "build discoverer")
	}
}

type recordingPauser struct {
	mu     sync.Mutex
	paused []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = append(p.paused, d)
}

func (p *recordingPauser) delays() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.paused)
}

func TestRunAdaptiveDelayGrowsOnFailures(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		artists: []*model.Artist{model.NewArtist("1", "Alpha", "https://example.test/artist/1")},
		tabs:    map[string][]*model.TabRef{"1": {}},
	}
	errs := map[string]error{}
	for i := 1; i <= 6; i++ {
		id := strconv.Itoa(i)
		site.tabs["1"] = append(site.tabs["1"], newTab(id, "Song "+id, model.TypeChords))
		errs[id] = &crawler.FetchError{Kind: crawler.KindServerError, URL: "https://example.test/tab/" + id, StatusCode: 503}
	}
	cfg := baseConfig(model.ModeCombined)
	cfg.Workers = 2
	cfg.AdaptiveDelay = &crawler.AdaptiveConfig{
		Max: time.Minute, Threshold: 0.2, Window: 10,
		Increment: 3 * time.Second, Decrement: time.Second, CheckInterval: 5,
	}
	pauser := &recordingPauser{}
	e, err := New(cfg, Deps{
		Store:     newStore(t, t.TempDir()),
		Discover:  site.factory(),
		Extractor: &fakeExtractor{errs: errs},
		Clock:     fixedClock{now: testNow},
		IDs:       fixedIDs{id: "run-1"},
		Pauser:    pauser,
	}, zap.NewNop())
	require.NoError(t, err)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, sum.ErrorCount)
	assert.Equal(t, []time.Duration{0, 0, 0, 0, 0, 3 * time.Second}, pauser.delays())
}

func TestRunAdaptiveDelayOffForSingleWorker(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(model.ModeCombined)
	cfg.AdaptiveDelay = &crawler.AdaptiveConfig{
		Max: time.Minute, Threshold: 0.2, Window: 10, Increment: time.Second, CheckInterval: 1,
	}
	pauser := &recordingPauser{}
	e, err := New(cfg, Deps{
		Store:     newStore(t, t.TempDir()),
		Discover:  newSite().factory(),
		Extractor: &fakeExtractor{},
		Pauser:    pauser,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pauser.delays())
}

func TestNewRejectsBadAdaptiveDelay(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(model.ModeCombined)
	cfg.AdaptiveDelay = &crawler.AdaptiveConfig{Window: 0}
	_, err := New(cfg, Deps{Store: newStore(t, t.TempDir()), Discover: newSite().factory(), Extractor: &fakeExtractor{}}, nil)
	require.ErrorContains(t, err, "adaptive delay")
}
