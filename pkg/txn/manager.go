// Package txn implements the two-phase rename transaction described in
// spec §4.6: plan (hash-pin everything), prepare (stage rewritten
// copies + write the WAL), commit (hash-verify then atomically swap),
// and rollback/cleanup.
//
// Grounded in two pack examples beyond the teacher: the state-machine
// shape follows nornicdb's pkg/storage/transaction.go (Transaction with
// buffered operations and an explicit status enum); the staged-copy
// swap-for-rollback idiom follows the WAL/transaction pairing seen in
// calvinalkan-agent-task's internal/store/wal.go, adapted from a binary
// checksum-framed log to the plain JSON manifest spec.md calls for.
package txn

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atomicobject/vault-rename/pkg/linkupdate"
	"github.com/atomicobject/vault-rename/pkg/vaultpath"
	"github.com/atomicobject/vault-rename/pkg/wal"
	"github.com/atomicobject/vault-rename/pkg/wikilink"
)

// State is a transaction's position in the prepare/commit state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StatePlanned     State = "PLANNED"
	StatePrepared    State = "PREPARED"
	StateCommitted   State = "COMMITTED"
	StateCleaned     State = "CLEANED"
	StateRollingBack State = "ROLLING_BACK"
	StateRolledBack  State = "ROLLED_BACK"
)

var (
	// ErrTransactionFailed covers plan-time validation and I/O failures.
	ErrTransactionFailed = errors.New("txn: transaction failed")
	// ErrHashMismatch means a bound file changed out-of-band since plan time.
	ErrHashMismatch = errors.New("txn: hash pin mismatch")
	// ErrPartialFailure means commit failed but rollback restored the vault.
	ErrPartialFailure = errors.New("txn: commit failed, rollback succeeded")
	// ErrUnrecoverable means commit failed AND rollback could not fully
	// restore the vault; the WAL is deliberately retained for manual repair.
	ErrUnrecoverable = errors.New("txn: commit failed, rollback did not complete")
)

// backupSuffix marks the pre-image copy kept alongside a staged
// rewritten file, derived deterministically from its staged path so
// the Manifest schema (spec §3) needs no extra field to support rollback.
const backupSuffix = ".orig"

// PlanInput describes the rename and the files discovered to reference it.
type PlanInput struct {
	CorrelationID    string
	OldPath          string // vault-relative, e.g. "notes/a.md"
	NewPath          string
	OldName          string // note stem used for link matching
	NewName          string
	ReferencingPaths []string // vault-relative paths that mention OldName
}

// Transaction is the in-memory handle returned by Plan and threaded
// through Prepare/Commit. Its Manifest is what gets written to the WAL.
type Transaction struct {
	Manifest wal.Manifest
	WALPath  string
	State    State

	// original holds each bound file's pre-image bytes, captured at
	// plan time so Prepare can write backup copies without re-reading
	// the (possibly already-changed) filesystem.
	original map[string][]byte
	// rewritten holds each link-update entry's freshly computed
	// replacement content, keyed by vault-relative path.
	rewritten map[string][]byte
}

// Manager orchestrates transactions against one vault.
type Manager struct {
	vaultPath string
	wal       *wal.Manager
	clock     func() time.Time

	mu      sync.Mutex
	claimed map[string]string // new_path -> correlation id of an in-flight claim
}

// NewManager constructs a Manager. clock defaults to time.Now.
func NewManager(vaultPath string, walMgr *wal.Manager, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		vaultPath: vaultPath,
		wal:       walMgr,
		clock:     clock,
		claimed:   make(map[string]string),
	}
}

// Plan validates the rename, pins pre-image hashes for every bound
// file, and computes (but does not yet write) the rewritten content for
// each referencing file.
func (m *Manager) Plan(input PlanInput) (*Transaction, error) {
	if input.CorrelationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrTransactionFailed)
	}

	oldAbs, err := vaultpath.Resolve(m.vaultPath, input.OldPath)
	if err != nil {
		return nil, fmt.Errorf("%w: source path: %v", ErrTransactionFailed, err)
	}
	info, err := os.Stat(oldAbs)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: source note not found: %s", ErrTransactionFailed, input.OldPath)
	}

	newAbs, err := vaultpath.Resolve(m.vaultPath, input.NewPath)
	if err != nil {
		return nil, fmt.Errorf("%w: destination path: %v", ErrTransactionFailed, err)
	}
	if oldAbs == newAbs {
		return nil, fmt.Errorf("%w: source and destination are identical", ErrTransactionFailed)
	}
	if _, err := os.Stat(newAbs); err == nil {
		return nil, fmt.Errorf("%w: destination already exists: %s", ErrTransactionFailed, input.NewPath)
	}

	if err := m.claim(input.NewPath, input.CorrelationID); err != nil {
		return nil, err
	}

	oldBytes, err := os.ReadFile(oldAbs)
	if err != nil {
		m.release(input.NewPath)
		return nil, fmt.Errorf("%w: read source note: %v", ErrTransactionFailed, err)
	}

	tx := &Transaction{
		State:     StatePlanned,
		original:  map[string][]byte{input.OldPath: oldBytes},
		rewritten: make(map[string][]byte),
	}

	// The note's own body moves with it byte-for-byte except for any
	// wikilink that targets itself: [[old-name]] inside old-name.md must
	// read [[new-name]] once the note is at its new path, the same as
	// any other referencer (spec §8).
	tx.rewritten[input.OldPath] = []byte(linkupdate.UpdateNoteLinks(string(oldBytes), input.OldName, input.NewName))

	sortedPaths := append([]string(nil), input.ReferencingPaths...)
	sort.Strings(sortedPaths)

	var linkUpdates []wal.LinkUpdateEntry
	seen := make(map[string]bool)
	for _, p := range sortedPaths {
		// A note that links to itself is rewritten above, as part of the
		// note rename's own content move, not by a separate staged swap
		// entry; self-references are excluded from this loop to avoid
		// double-processing the same file.
		if seen[p] || p == input.OldPath {
			continue
		}
		seen[p] = true

		absP, err := vaultpath.Resolve(m.vaultPath, p)
		if err != nil {
			m.release(input.NewPath)
			return nil, fmt.Errorf("%w: referencing path %s: %v", ErrTransactionFailed, p, err)
		}
		bytes, err := os.ReadFile(absP)
		if err != nil {
			m.release(input.NewPath)
			return nil, fmt.Errorf("%w: read referencing file %s: %v", ErrTransactionFailed, p, err)
		}

		rewritten := linkupdate.UpdateNoteLinks(string(bytes), input.OldName, input.NewName)
		if rewritten == string(bytes) {
			continue
		}

		tx.original[p] = bytes
		tx.rewritten[p] = []byte(rewritten)
		linkUpdates = append(linkUpdates, wal.LinkUpdateEntry{
			Path:         p,
			SHA256Before: shaHex(bytes),
			Replacements: countReplacements(input.OldName, bytes),
		})
	}

	tx.Manifest = wal.Manifest{
		CorrelationID: input.CorrelationID,
		Timestamp:     m.clock(),
		VaultPath:     m.vaultPath,
		Phase:         wal.PhasePrepare,
		Operation:     "rename_note",
		NoteRename: wal.NoteRename{
			From:         input.OldPath,
			To:           input.NewPath,
			SHA256Before: shaHex(oldBytes),
		},
		LinkUpdates:     linkUpdates,
		TotalOperations: 1 + len(linkUpdates),
		PID:             os.Getpid(),
	}

	return tx, nil
}

// Prepare stages every rewritten file (and a pre-image backup of every
// bound file) under dot-prefixed names, then durably writes the WAL.
// No user-visible file changes happen during Prepare.
func (m *Manager) Prepare(tx *Transaction) error {
	if tx.State != StatePlanned {
		return fmt.Errorf("%w: prepare called from state %s", ErrTransactionFailed, tx.State)
	}

	for i := range tx.Manifest.LinkUpdates {
		entry := &tx.Manifest.LinkUpdates[i]
		stagedPath := stagedFileName(tx.Manifest.CorrelationID, i)

		if err := m.writeStaged(stagedPath, tx.rewritten[entry.Path]); err != nil {
			return fmt.Errorf("%w: stage rewrite for %s: %v", ErrTransactionFailed, entry.Path, err)
		}
		if err := m.writeStaged(stagedPath+backupSuffix, tx.original[entry.Path]); err != nil {
			return fmt.Errorf("%w: stage backup for %s: %v", ErrTransactionFailed, entry.Path, err)
		}
		entry.StagedPath = stagedPath
	}

	noteStagedPath := stagedRenameFileName(tx.Manifest.CorrelationID)
	if err := m.writeStaged(noteStagedPath, tx.rewritten[tx.Manifest.NoteRename.From]); err != nil {
		return fmt.Errorf("%w: stage note content: %v", ErrTransactionFailed, err)
	}
	if err := m.writeStaged(noteStagedPath+backupSuffix, tx.original[tx.Manifest.NoteRename.From]); err != nil {
		return fmt.Errorf("%w: stage note pre-image: %v", ErrTransactionFailed, err)
	}
	tx.Manifest.NoteRename.StagedPath = noteStagedPath

	walPath, err := m.wal.WriteWAL(tx.Manifest)
	if err != nil {
		return fmt.Errorf("%w: write wal: %v", ErrTransactionFailed, err)
	}

	tx.WALPath = walPath
	tx.State = StatePrepared
	return nil
}

// Commit verifies every bound file's hash still matches its pre-image,
// then atomically swaps staged content into place, with the note rename
// always last. On any failure it rolls back and returns ErrPartialFailure
// or ErrUnrecoverable.
func (m *Manager) Commit(tx *Transaction) error {
	if tx.State != StatePrepared {
		return fmt.Errorf("%w: commit called from state %s", ErrTransactionFailed, tx.State)
	}

	entries := append([]wal.LinkUpdateEntry(nil), tx.Manifest.LinkUpdates...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	commitErr := m.commitEntries(tx, entries)
	if commitErr == nil {
		commitErr = m.commitNoteRename(tx)
	}

	if commitErr == nil {
		tx.State = StateCommitted
		m.release(tx.Manifest.NoteRename.To)
		return nil
	}

	tx.State = StateRollingBack
	m.release(tx.Manifest.NoteRename.To)
	if rbErr := m.Rollback(tx.Manifest); rbErr != nil {
		tx.State = StateRolledBack
		// WAL is deliberately retained: boot recovery gets another try.
		return fmt.Errorf("%w: %v (rollback also failed: %v)", ErrUnrecoverable, commitErr, rbErr)
	}
	tx.State = StateRolledBack
	if tx.WALPath != "" {
		_ = m.wal.DeleteWAL(tx.WALPath)
	}
	return fmt.Errorf("%w: %w", ErrPartialFailure, commitErr)
}

func (m *Manager) commitEntries(tx *Transaction, entries []wal.LinkUpdateEntry) error {
	for _, entry := range entries {
		absTarget, err := vaultpath.Resolve(m.vaultPath, entry.Path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", entry.Path, err)
		}
		current, err := os.ReadFile(absTarget)
		if err != nil {
			return fmt.Errorf("re-read %s: %w", entry.Path, err)
		}
		if shaHex(current) != entry.SHA256Before {
			return fmt.Errorf("%s: %w", entry.Path, ErrHashMismatch)
		}

		absStaged, err := vaultpath.Resolve(m.vaultPath, entry.StagedPath)
		if err != nil {
			return fmt.Errorf("resolve staged path for %s: %w", entry.Path, err)
		}
		if err := os.Rename(absStaged, absTarget); err != nil {
			return fmt.Errorf("swap staged content for %s: %w", entry.Path, err)
		}
		markCompleted(tx.Manifest.LinkUpdates, entry.Path)
	}
	return nil
}

func (m *Manager) commitNoteRename(tx *Transaction) error {
	nr := &tx.Manifest.NoteRename
	absOld, err := vaultpath.Resolve(m.vaultPath, nr.From)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", nr.From, err)
	}
	current, err := os.ReadFile(absOld)
	if err != nil {
		return fmt.Errorf("re-read %s: %w", nr.From, err)
	}
	if shaHex(current) != nr.SHA256Before {
		return fmt.Errorf("%s: %w", nr.From, ErrHashMismatch)
	}

	absNew, err := vaultpath.Resolve(m.vaultPath, nr.To)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", nr.To, err)
	}
	if _, err := os.Stat(absNew); err == nil {
		return fmt.Errorf("destination appeared during commit: %s", nr.To)
	}

	// Swap the staged content (identical to the pre-image unless the
	// note linked to itself) into place at the old path first, then do
	// the actual move; this keeps both steps a plain os.Rename, mirroring
	// how commitEntries swaps staged rewrites into referencing files.
	absStaged, err := vaultpath.Resolve(m.vaultPath, nr.StagedPath)
	if err != nil {
		return fmt.Errorf("resolve staged note content: %w", err)
	}
	if err := os.Rename(absStaged, absOld); err != nil {
		return fmt.Errorf("swap staged note content: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("rename note: %w", err)
	}
	nr.Completed = true
	return nil
}

func markCompleted(entries []wal.LinkUpdateEntry, path string) {
	for i := range entries {
		if entries[i].Path == path {
			entries[i].Completed = true
			return
		}
	}
}

// Rollback restores the vault to its pre-transaction state using only
// the Manifest and the staged files it names, so it can run both from a
// live Transaction (after a failed commit) and from a Manifest parsed
// off disk during boot recovery.
func (m *Manager) Rollback(manifest wal.Manifest) error {
	var unrecoverable []string

	for _, entry := range manifest.LinkUpdates {
		if err := m.rollbackEntry(manifest.VaultPath, entry); err != nil {
			unrecoverable = append(unrecoverable, fmt.Sprintf("%s: %v", entry.Path, err))
		}
	}

	if err := m.rollbackNoteRename(manifest); err != nil {
		unrecoverable = append(unrecoverable, fmt.Sprintf("%s: %v", manifest.NoteRename.From, err))
	}

	if len(unrecoverable) > 0 {
		return fmt.Errorf("rollback left %d file(s) unrestored: %v", len(unrecoverable), unrecoverable)
	}
	return nil
}

func (m *Manager) rollbackEntry(vaultPath string, entry wal.LinkUpdateEntry) error {
	if entry.StagedPath == "" {
		return nil
	}
	absTarget, err := vaultpath.Resolve(vaultPath, entry.Path)
	if err != nil {
		return err
	}
	absStaged, _ := vaultpath.Resolve(vaultPath, entry.StagedPath)
	absBackup, _ := vaultpath.Resolve(vaultPath, entry.StagedPath+backupSuffix)

	current, readErr := os.ReadFile(absTarget)
	matchesPreimage := readErr == nil && shaHex(current) == entry.SHA256Before
	_, stagedErr := os.Stat(absStaged)
	stagedStillPresent := stagedErr == nil

	defer os.Remove(absStaged)
	defer os.Remove(absBackup)

	switch {
	case matchesPreimage:
		// Never committed (or already rolled back); nothing to restore.
		return nil
	case stagedStillPresent:
		// Commit never reached this entry's swap (the rewritten copy
		// was never renamed in); the differing hash is an out-of-band
		// edit we must not clobber.
		return nil
	default:
		// The staged rewrite is gone, meaning commit already renamed it
		// over the target; restore the pre-image backup written at prepare time.
		if _, err := os.Stat(absBackup); err != nil {
			return fmt.Errorf("committed entry has no backup to restore: %w", err)
		}
		if err := os.Rename(absBackup, absTarget); err != nil {
			return fmt.Errorf("restore pre-image: %w", err)
		}
		return nil
	}
}

func (m *Manager) rollbackNoteRename(manifest wal.Manifest) error {
	nr := manifest.NoteRename
	absOld, err := vaultpath.Resolve(manifest.VaultPath, nr.From)
	if err != nil {
		return err
	}
	absNew, errNew := vaultpath.Resolve(manifest.VaultPath, nr.To)
	var absBackup string
	if nr.StagedPath != "" {
		if b, err := vaultpath.Resolve(manifest.VaultPath, nr.StagedPath+backupSuffix); err == nil {
			absBackup = b
		}
	}

	if oldBytes, readErr := os.ReadFile(absOld); readErr == nil {
		if shaHex(oldBytes) != nr.SHA256Before {
			// Commit swapped the rewritten content into From but failed
			// before the final rename into To; restore the pre-image.
			if absBackup == "" {
				return fmt.Errorf("note was rewritten in place but no backup is available to restore")
			}
			if err := os.Rename(absBackup, absOld); err != nil {
				return fmt.Errorf("restore note pre-image: %w", err)
			}
		}
		// Otherwise From is untouched; nothing to restore.
	} else if errNew == nil {
		if _, err := os.Stat(absNew); err == nil {
			// Commit completed the move; restore the pre-image to From
			// and remove the committed destination.
			if absBackup == "" {
				return fmt.Errorf("committed note rename has no backup to restore")
			}
			if err := os.Rename(absBackup, absOld); err != nil {
				return fmt.Errorf("restore note rename: %w", err)
			}
			if err := os.Remove(absNew); err != nil {
				return fmt.Errorf("remove committed destination: %w", err)
			}
		}
	}

	if nr.StagedPath != "" {
		if absStaged, err := vaultpath.Resolve(manifest.VaultPath, nr.StagedPath); err == nil {
			os.Remove(absStaged)
		}
	}
	if absBackup != "" {
		os.Remove(absBackup)
	}
	return nil
}

// Cleanup removes every staged/backup file referenced by a successfully
// committed manifest and deletes its WAL entry.
func (m *Manager) Cleanup(tx *Transaction) error {
	var lastErr error
	for _, entry := range tx.Manifest.LinkUpdates {
		if entry.StagedPath == "" {
			continue
		}
		if absBackup, err := vaultpath.Resolve(m.vaultPath, entry.StagedPath+backupSuffix); err == nil {
			os.Remove(absBackup)
		}
	}
	if tx.Manifest.NoteRename.StagedPath != "" {
		// The staged content itself was already consumed by the commit-time
		// swap into From; only the pre-image backup can still be present.
		if absBackup, err := vaultpath.Resolve(m.vaultPath, tx.Manifest.NoteRename.StagedPath+backupSuffix); err == nil {
			os.Remove(absBackup)
		}
	}
	if tx.WALPath != "" {
		if err := m.wal.DeleteWAL(tx.WALPath); err != nil {
			lastErr = err
		}
	}
	tx.State = StateCleaned
	return lastErr
}

func (m *Manager) writeStaged(relPath string, data []byte) error {
	abs, err := vaultpath.Resolve(m.vaultPath, relPath)
	if err != nil {
		return err
	}
	return writeFileAtomic(abs, data, 0o644)
}

func (m *Manager) claim(newPath, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.claimed[newPath]; ok && existing != correlationID {
		return fmt.Errorf("%w: destination %s already claimed by transaction %s", ErrTransactionFailed, newPath, existing)
	}
	m.claimed[newPath] = correlationID
	return nil
}

func (m *Manager) release(newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, newPath)
}

func stagedFileName(correlationID string, n int) string {
	return fmt.Sprintf(".mcp-staged-%s-%d", correlationID, n)
}

func stagedRenameFileName(correlationID string) string {
	return fmt.Sprintf(".mcp-staged-%s-rename", correlationID)
}

func shaHex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

func countReplacements(oldName string, content []byte) int {
	count := 0
	trimmedOld := strings.TrimSuffix(oldName, ".md")
	fences := wikilink.CodeFenceRanges(string(content))
	for _, m := range wikilink.FindAll(string(content)) {
		if wikilink.InRanges(fences, m.Start) {
			continue
		}
		base := strings.TrimSuffix(m.Target, ".md")
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		if strings.EqualFold(base, trimmedOld) {
			count++
		}
	}
	return count
}
