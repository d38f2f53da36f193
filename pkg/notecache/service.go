// Package notecache implements the NoteCache contract the rename engine
// consumes (spec §4.2, §6.5): a lazy, TTL-bounded snapshot of a vault's
// Markdown files, kept warm by a filesystem watcher and falling back to
// full revalidation when the watcher misbehaves.
//
// Operational story (read before editing), carried over from the
// teacher's pkg/cache/service.go:
//  1. ensureReady performs a one-time crawl to populate the index and
//     install directory watches. Concurrency-safe via a spin gate.
//  2. watchLoop translates fsnotify events into "dirty" markers (or, on
//     watcher failure, flips a stale flag).
//  3. GetAll is the front door callers hit before reading; it
//     revalidates stale state and applies dirty markers by re-reading
//     or deleting paths, then returns a snapshot.
package notecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/atomicobject/vault-rename/pkg/wikilink"
)

// Entry is a single cached note: its vault-relative path, raw bytes, the
// on-disk modification time recorded when it was read (staleness is
// tracked through watcher events and Invalidate, not by comparing this
// value), and its decoded
// YAML frontmatter (nil if the note has none or it failed to parse).
// Frontmatter is informational only — RenameNote works from Bytes, never
// from Frontmatter, so a malformed block here never blocks a rename.
type Entry struct {
	Path        string
	Bytes       []byte
	ModTime     time.Time
	Frontmatter map[string]interface{}
}

// dirtyKind captures why a path was marked dirty.
type dirtyKind string

const (
	dirtyModified dirtyKind = "modified"
	dirtyRemoved  dirtyKind = "removed"
	dirtyRenamed  dirtyKind = "renamed"
)

// Watcher abstracts filesystem notifications so tests can inject a fake.
type Watcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsNotifyWatcher struct{ *fsnotify.Watcher }

func (f *fsNotifyWatcher) Events() <-chan fsnotify.Event { return f.Watcher.Events }
func (f *fsNotifyWatcher) Errors() <-chan error          { return f.Watcher.Errors }

// Options controls cache construction.
type Options struct {
	Watcher        Watcher
	WatcherFactory func() (Watcher, error)
	StaleInterval  time.Duration // polling fallback when no watcher is available
}

// Service is the engine-facing NoteCache implementation.
type Service struct {
	vaultPath string

	mu       sync.RWMutex
	ready    bool
	crawling bool
	stale    bool
	index    map[string]*Entry
	dirIndex map[string]struct{}
	dirty    map[string]dirtyKind

	watcher        Watcher
	watcherFactory func() (Watcher, error)
	watchOnce      sync.Once
	ctx            context.Context
	cancel         context.CancelFunc
	staleInterval  time.Duration
}

// New constructs a NoteCache rooted at vaultPath.
func New(vaultPath string, opts Options) (*Service, error) {
	if vaultPath == "" {
		return nil, errors.New("vaultPath is required")
	}

	var watcher Watcher
	watcherFactory := opts.WatcherFactory
	if opts.Watcher != nil {
		watcher = opts.Watcher
	} else if watcherFactory == nil {
		watcherFactory = func() (Watcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, fmt.Errorf("create watcher: %w", err)
			}
			return &fsNotifyWatcher{Watcher: w}, nil
		}
		w, err := watcherFactory()
		if err != nil {
			watcherFactory = nil
			if opts.StaleInterval == 0 {
				opts.StaleInterval = 30 * time.Second
			}
			log.Printf("notecache: watcher unavailable (%v); falling back to polling with stale interval %s", err, opts.StaleInterval)
		} else {
			watcher = w
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		vaultPath:      vaultPath,
		index:          make(map[string]*Entry),
		dirIndex:       make(map[string]struct{}),
		dirty:          make(map[string]dirtyKind),
		watcher:        watcher,
		watcherFactory: watcherFactory,
		ctx:            ctx,
		cancel:         cancel,
		staleInterval:  opts.StaleInterval,
	}, nil
}

// Close stops the watcher and releases resources.
func (s *Service) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// GetAll returns a snapshot of every currently indexed note, refreshing
// the cache first per the NoteCache contract in spec §4.2.
func (s *Service) GetAll(ctx context.Context) ([]Entry, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		cp := *e
		out = append(out, cp)
	}
	return out, nil
}

// Invalidate forces the next read to re-read path from disk.
func (s *Service) Invalidate(path string) {
	rel := NormalizePath(path)
	s.mu.Lock()
	s.dirty[rel] = dirtyModified
	s.mu.Unlock()
}

// InvalidateAll marks every cached entry for re-read on the next refresh
// (§4.2). The rename coordinator does not call it; it invalidates each
// touched path with Invalidate.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.index {
		s.dirty[path] = dirtyModified
	}
}

func (s *Service) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return s.refresh(ctx)
	}
	if s.crawling {
		s.mu.Unlock()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
				s.mu.RLock()
				ready := s.ready
				s.mu.RUnlock()
				if ready {
					return s.refresh(ctx)
				}
			}
		}
	}
	s.crawling = true
	s.mu.Unlock()

	if err := s.initialCrawl(ctx); err != nil {
		s.mu.Lock()
		s.crawling = false
		s.mu.Unlock()
		return err
	}
	s.startWatcher()
	s.startStaleTicker()
	return s.refresh(ctx)
}

// refresh reconciles in-memory state with the filesystem: a full resync
// when the watcher has signaled trouble, otherwise just the accumulated
// dirty markers.
func (s *Service) refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return s.ensureReady(ctx)
	}

	stale := s.stale
	s.stale = false
	dirty := s.dirty
	s.dirty = make(map[string]dirtyKind)
	s.mu.Unlock()

	if stale {
		return s.resync(ctx)
	}
	if len(dirty) == 0 {
		return nil
	}

	for path, kind := range dirty {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch kind {
		case dirtyRemoved, dirtyRenamed:
			s.removePath(path)
			if kind == dirtyRenamed {
				parent := filepath.Dir(filepath.Join(s.vaultPath, path))
				_ = s.rescanDir(parent)
			}
		default:
			if err := s.refreshPath(filepath.Join(s.vaultPath, path)); err != nil {
				s.mu.Lock()
				s.dirty[path] = dirtyModified
				s.mu.Unlock()
			}
		}
	}
	return nil
}

func (s *Service) resync(ctx context.Context) error {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.watcherFactory != nil {
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		w, err := s.watcherFactory()
		if err != nil {
			return err
		}
		s.watcher = w
	}

	s.mu.Lock()
	s.ready = false
	s.crawling = false
	s.index = make(map[string]*Entry)
	s.dirIndex = make(map[string]struct{})
	s.dirty = make(map[string]dirtyKind)
	s.watchOnce = sync.Once{}
	s.mu.Unlock()

	if err := s.initialCrawl(ctx); err != nil {
		return err
	}
	s.startWatcher()
	return nil
}

func (s *Service) initialCrawl(ctx context.Context) error {
	var dirs, files []string
	err := filepath.WalkDir(s.vaultPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if shouldSkipDir(d.Name()) && path != s.vaultPath {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}
		if shouldSkipFile(d.Name()) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range dirs {
		s.addWatch(d)
	}
	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.refreshPath(f); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) refreshPath(absPath string) error {
	rel, err := filepath.Rel(s.vaultPath, absPath)
	if err != nil {
		return err
	}
	rel = NormalizePath(rel)

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.removePath(rel)
			return nil
		}
		return err
	}
	if info.IsDir() || shouldSkipFile(info.Name()) {
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	meta, _, err := wikilink.ParseFrontmatter(string(content))
	if err != nil {
		meta = nil
	}

	s.mu.Lock()
	s.index[rel] = &Entry{Path: rel, Bytes: content, ModTime: info.ModTime(), Frontmatter: meta}
	s.mu.Unlock()
	return nil
}

func (s *Service) removePath(rel string) {
	rel = NormalizePath(rel)
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.index {
		if path == rel || strings.HasPrefix(path, rel+"/") {
			delete(s.index, path)
		}
	}
}

func (s *Service) rescanDir(absDir string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(absDir, entry.Name())
		if entry.IsDir() {
			if !shouldSkipDir(entry.Name()) {
				s.addWatch(full)
			}
			continue
		}
		_ = s.refreshPath(full)
	}
	return nil
}

func (s *Service) addWatch(path string) {
	if s.watcher == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.dirIndex[path]; ok {
		s.mu.Unlock()
		return
	}
	s.dirIndex[path] = struct{}{}
	s.mu.Unlock()
	_ = s.watcher.Add(path)
}

func (s *Service) startWatcher() {
	if s.watcher == nil {
		return
	}
	s.watchOnce.Do(func() { go s.watchLoop() })
}

func (s *Service) startStaleTicker() {
	if s.staleInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.staleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.markStale()
			}
		}
	}()
}

func (s *Service) watchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-s.watcher.Events():
			if !ok {
				s.markStale()
				return
			}
			s.handleEvent(evt)
		case _, ok := <-s.watcher.Errors():
			if !ok {
				s.markStale()
				return
			}
			s.markStale()
		}
	}
}

func (s *Service) handleEvent(evt fsnotify.Event) {
	rel, err := filepath.Rel(s.vaultPath, evt.Name)
	if err != nil {
		return
	}
	rel = NormalizePath(rel)

	switch {
	case evt.Op&fsnotify.Create == fsnotify.Create:
		s.markDirty(rel, dirtyModified)
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			s.addWatch(evt.Name)
			_ = s.rescanDir(evt.Name)
		}
	case evt.Op&fsnotify.Write == fsnotify.Write:
		s.markDirty(rel, dirtyModified)
	case evt.Op&fsnotify.Remove == fsnotify.Remove:
		s.markDirty(rel, dirtyRemoved)
	case evt.Op&fsnotify.Rename == fsnotify.Rename:
		s.markDirty(rel, dirtyRenamed)
	}
}

func (s *Service) markDirty(rel string, kind dirtyKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.dirty[rel]; ok && existing == dirtyRemoved {
		return
	}
	s.dirty[rel] = kind
}

func (s *Service) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func shouldSkipDir(name string) bool {
	return strings.HasPrefix(name, ".")
}

func shouldSkipFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return filepath.Ext(name) != ".md"
}

// NormalizePath converts a path to forward-slash form, matching how
// Obsidian wikilinks address notes regardless of host OS.
func NormalizePath(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "\\", "/")
}
