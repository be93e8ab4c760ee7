package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tab-archiver/internal/orchestrator"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitNothingDone, exitCode(fmt.Errorf("archive run: %w", orchestrator.ErrNothingProcessed)))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("archive run: %w", orchestrator.ErrInterrupted)))
}

func TestDownloadOnlyWithoutRecords(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--download-only",
		"--outdir", dir,
		"--render-listings=false",
		"--render-catalog=false",
		"--render-tabs=false",
		"--log-level", "error",
	})

	err := cmd.ExecuteContext(context.Background())
	require.ErrorIs(t, err, orchestrator.ErrNothingProcessed)
	assert.Equal(t, exitNothingDone, exitCode(err))
	assert.FileExists(t, filepath.Join(dir, store.DownloadSummaryFile))
	assert.NoFileExists(t, filepath.Join(dir, store.BandsSummaryFile))
}

func TestRejectsConflictingModes(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--download-only", "--scrape-only", "--outdir", t.TempDir()})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestRepairExtensionsCommand(t *testing.T) {
	dir := t.TempDir()
	bandDir := filepath.Join(dir, "Band_77")
	require.NoError(t, os.MkdirAll(bandDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bandDir, "Song_POWER_5.gp5"), []byte("tab"), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"repair-extensions", "--outdir", dir})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var report store.RepairReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 1, report.Scanned)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, store.ActionRenamed, report.Actions[0].Action)
	assert.FileExists(t, filepath.Join(bandDir, "Song_POWER_5.ptb"))
}

func TestRepairExtensionsDryRun(t *testing.T) {
	dir := t.TempDir()
	bandDir := filepath.Join(dir, "Band_77")
	require.NoError(t, os.MkdirAll(bandDir, 0o755))
	src := filepath.Join(bandDir, "Song_POWER_5.gp5")
	require.NoError(t, os.WriteFile(src, []byte("tab"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"repair-extensions", "--outdir", dir, "--dry-run"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.FileExists(t, src)
	assert.NoFileExists(t, filepath.Join(bandDir, "Song_POWER_5.ptb"))
}
