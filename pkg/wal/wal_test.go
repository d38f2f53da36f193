package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleManifest(correlationID string, ts time.Time) Manifest {
	return Manifest{
		CorrelationID: correlationID,
		Timestamp:     ts,
		VaultPath:     "/vault",
		Phase:         PhasePrepare,
		Operation:     "rename_note",
		NoteRename: NoteRename{
			From:         "a.md",
			To:           "b.md",
			SHA256Before: "deadbeef",
		},
		LinkUpdates:     []LinkUpdateEntry{{Path: "c.md", SHA256Before: "cafebabe", Replacements: 1}},
		TotalOperations: 2,
		PID:             os.Getpid(),
	}
}

func TestWriteWAL_CreatesDeterministicallyNamedFile(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.NoError(t, err)

	manifest := sampleManifest("11111111-1111-1111-1111-111111111111", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	path, err := mgr.WriteWAL(manifest)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "20260102T030405Z-rename-11111111-1111-1111-1111-111111111111.wal.json"), path)
	assert.Equal(t, path, mgr.ResolvePath(manifest))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestWriteWAL_RejectsConcurrentSameCorrelationID(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, fixedClock(time.Now()))
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	manifest := sampleManifest("22222222-2222-2222-2222-222222222222", ts)

	path := mgr.ResolvePath(manifest)
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	defer os.Remove(tmpPath)

	_, err = mgr.WriteWAL(manifest)
	assert.Error(t, err)
}

func TestScanPending_ExcludesFilesYoungerThanQuiescenceWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	mgr, err := NewManager(dir, fixedClock(now))
	require.NoError(t, err)

	manifest := sampleManifest("33333333-3333-3333-3333-333333333333", now)
	path, err := mgr.WriteWAL(manifest)
	require.NoError(t, err)

	// File was just written, so it is younger than any positive quiescence window.
	result, err := mgr.ScanPending(time.Minute)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Entries)
	assert.Equal(t, 1, result.SkippedTooYoung)

	// Backdate the file's mtime to simulate it aging past the window.
	old := now.Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	result, err = mgr.ScanPending(time.Minute)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, manifest.CorrelationID, result.Entries[0].Manifest.CorrelationID)
}

func TestScanPending_ReportsMalformedFilesAsWarningsNotErrors(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	mgr, err := NewManager(dir, fixedClock(now))
	require.NoError(t, err)

	badPath := filepath.Join(dir, "20260101T000000Z-rename-bad.wal.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not json"), 0o644))
	old := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(badPath, old, old))

	result, err := mgr.ScanPending(time.Minute)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	require.Len(t, result.Warnings, 1)
}

func TestDeleteWAL_RemovesFileAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, fixedClock(time.Now()))
	require.NoError(t, err)

	manifest := sampleManifest("44444444-4444-4444-4444-444444444444", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	path, err := mgr.WriteWAL(manifest)
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteWAL(path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Deleting again must not be an error.
	assert.NoError(t, mgr.DeleteWAL(path))
}
