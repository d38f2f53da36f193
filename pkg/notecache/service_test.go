package notecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// noWatcher is a Watcher that never delivers events, so during tests
// that don't care about live filesystem notifications the cache only
// re-reads files after an explicit Invalidate/InvalidateAll.
type noWatcher struct {
	events chan fsnotify.Event
	errs   chan error
}

func newNoWatcher() *noWatcher {
	return &noWatcher{events: make(chan fsnotify.Event), errs: make(chan error)}
}

func (w *noWatcher) Add(string) error                    { return nil }
func (w *noWatcher) Close() error                         { return nil }
func (w *noWatcher) Events() <-chan fsnotify.Event        { return w.events }
func (w *noWatcher) Errors() <-chan error                 { return w.errs }

func TestGetAll_CrawlsMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("nope"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("# B"), 0o644))

	svc, err := New(dir, Options{Watcher: newNoWatcher()})
	require.NoError(t, err)
	defer svc.Close()

	entries, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	require.Contains(t, byPath, "a.md")
	require.Contains(t, byPath, "sub/b.md")
}

func TestGetAll_SkipsHiddenAndStagedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mcp-staged-xyz"), []byte("staged"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.md"), []byte("# Real"), 0o644))

	svc, err := New(dir, Options{Watcher: newNoWatcher()})
	require.NoError(t, err)
	defer svc.Close()

	entries, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "real.md", entries[0].Path)
}

func TestInvalidate_ForcesReread(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	svc, err := New(dir, Options{Watcher: newNoWatcher()})
	require.NoError(t, err)
	defer svc.Close()

	entries, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1", string(entries[0].Bytes))

	// Mutate mtime-insensitively underneath the cache, then force a re-read.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	svc.Invalidate("a.md")

	entries, err = svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v2", string(entries[0].Bytes))
}

func TestInvalidateAll_MarksEveryEntryDirty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("v1"), 0o644))

	svc, err := New(dir, Options{Watcher: newNoWatcher()})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.GetAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("v2"), 0o644))
	svc.InvalidateAll()

	entries, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		require.Equal(t, "v2", string(e.Bytes))
	}
}

func TestClose_IsIdempotentSafe(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(dir, Options{Watcher: newNoWatcher(), StaleInterval: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestGetAll_ParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("---\ntitle: A\ntags: [x, y]\n---\nbody"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("no frontmatter here"), 0o644))

	svc, err := New(dir, Options{Watcher: newNoWatcher()})
	require.NoError(t, err)
	defer svc.Close()

	entries, err := svc.GetAll(context.Background())
	require.NoError(t, err)

	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	require.Equal(t, "A", byPath["a.md"].Frontmatter["title"])
	require.Nil(t, byPath["b.md"].Frontmatter)
}
