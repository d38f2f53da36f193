// Package rename implements RenameCoordinator (spec §4.7), the engine's
// one public operation. It validates input, discovers referencing
// files via pkg/linkscan, drives pkg/txn through plan/prepare/commit/
// cleanup, invalidates the shared NoteCache, and emits a single
// telemetry record.
//
// Grounded in the teacher's pkg/actions/rename.go for the overall
// "validate, rename, report result" shape and RenameResult field
// naming; the transactional internals replace the teacher's direct
// os.Rename + best-effort link rewrite with the full plan/prepare/
// commit pipeline spec.md requires.
package rename

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atomicobject/vault-rename/pkg/linkscan"
	"github.com/atomicobject/vault-rename/pkg/notecache"
	"github.com/atomicobject/vault-rename/pkg/recovery"
	"github.com/atomicobject/vault-rename/pkg/telemetry"
	"github.com/atomicobject/vault-rename/pkg/txn"
	"github.com/atomicobject/vault-rename/pkg/wal"
)

// ErrorCode enumerates the failure taxonomy from spec §7.
type ErrorCode string

const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrSourceNotFound     ErrorCode = "SOURCE_NOT_FOUND"
	ErrDestinationInvalid ErrorCode = "DESTINATION_INVALID"
	ErrHashMismatchCode   ErrorCode = "HASH_MISMATCH"
	ErrTransactionFailed  ErrorCode = "TRANSACTION_FAILED"
	ErrPartialFailureCode ErrorCode = "PARTIAL_FAILURE"
	ErrUnrecoverableCode  ErrorCode = "UNRECOVERABLE"
)

// Config configures a Coordinator. VaultPath is explicit rather than
// resolved from an ambient default-vault name, replacing the teacher's
// vault-name singleton (pkg/obsidian/vault.go) with a value the caller
// owns and can vary per instance — see the Configuration section of
// SPEC_FULL.md on spec §9's "global state to migrate" note.
type Config struct {
	VaultPath        string
	WALDir           string        // defaults to "<VaultPath>/.vault-rename-wal"
	QuiescenceWindow time.Duration // default 60s; minimum WAL age before Recover rolls it back (spec §4.8)
	CaseSensitive    bool
	// Clock is injected so tests can simulate WAL age deterministically
	// instead of depending on wall-clock time.
	Clock func() time.Time
}

func (c Config) quiescenceWindow() time.Duration {
	if c.QuiescenceWindow > 0 {
		return c.QuiescenceWindow
	}
	return 60 * time.Second
}

func (c Config) walDir() string {
	if c.WALDir != "" {
		return c.WALDir
	}
	return path.Join(c.VaultPath, ".vault-rename-wal")
}

func (c Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}

// Input is the rename_note request shape (spec §4.7).
type Input struct {
	OldPath        string
	NewPath        string
	UpdateLinks    bool // defaults true; zero value must be set explicitly via NewInput
	updateLinksSet bool
}

// NewInput builds an Input with UpdateLinks defaulted to true, matching
// the pseudocontract's stated default.
func NewInput(oldPath, newPath string) Input {
	return Input{OldPath: oldPath, NewPath: newPath, UpdateLinks: true, updateLinksSet: true}
}

// WithUpdateLinks overrides the update_links default.
func (i Input) WithUpdateLinks(v bool) Input {
	i.UpdateLinks = v
	i.updateLinksSet = true
	return i
}

// Metrics reports per-phase timings in milliseconds (spec §4.7 output).
type Metrics struct {
	ScanMs    int64
	PrepareMs int64
	CommitMs  int64
	TotalMs   int64
}

// Output is the rename_note response shape (spec §4.7).
type Output struct {
	Success             bool
	OldPath             string
	NewPath             string
	CorrelationID       string
	UpdatedCount        int
	Metrics             Metrics
	Warnings            []string
	ErrorCode           ErrorCode
	Error               string
	TransactionMetadata map[string]string
}

// Coordinator is the engine's public entrypoint.
type Coordinator struct {
	config Config
	cache  linkscan.Cache
	wal    *wal.Manager
	txn    *txn.Manager
	sink   telemetry.Sink
}

// New constructs a Coordinator. cache is the consumed NoteCache
// contract (spec §4.2); sink receives one telemetry Record per rename
// and may be nil to discard telemetry entirely.
func New(config Config, cache linkscan.Cache, sink telemetry.Sink) (*Coordinator, error) {
	if config.VaultPath == "" {
		return nil, fmt.Errorf("rename: vault path is required")
	}
	walMgr, err := wal.NewManager(config.walDir(), config.clock())
	if err != nil {
		return nil, fmt.Errorf("rename: init wal manager: %w", err)
	}
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	return &Coordinator{
		config: config,
		cache:  cache,
		wal:    walMgr,
		txn:    txn.NewManager(config.VaultPath, walMgr, config.clock()),
		sink:   sink,
	}, nil
}

// Recover runs BootRecovery (spec §4.8) against this Coordinator's WAL
// directory, rolling back any transaction older than QuiescenceWindow.
// Call once at service startup, before serving any rename requests.
func (c *Coordinator) Recover() recovery.Report {
	return recovery.Run(c.wal, c.txn, c.config.quiescenceWindow())
}

// RenameNote validates input, scans for referencers, and drives the
// transaction to completion (or a well-defined rollback).
func (c *Coordinator) RenameNote(ctx context.Context, input Input) Output {
	start := c.config.clock()()
	correlationID := uuid.New().String()

	oldPath, newPath, err := normalize(input.OldPath, input.NewPath)
	if err != nil {
		return c.fail(correlationID, input, ErrInvalidInput, err, start)
	}

	oldName := stem(oldPath)
	newName := stem(newPath)

	updateLinks := input.UpdateLinks
	if !input.updateLinksSet {
		updateLinks = true
	}

	var referencingPaths []string
	var scanMs int64
	var totalReferences int
	if updateLinks {
		scanStart := c.config.clock()()
		scan, err := linkscan.ScanVault(ctx, c.cache, oldName, linkscan.Options{
			CaseSensitive:   c.config.CaseSensitive,
			IncludeEmbeds:   true,
			SkipCodeBlocks:  true,
			SkipFrontmatter: false,
		})
		scanMs = c.config.clock()().Sub(scanStart).Milliseconds()
		if err != nil {
			return c.fail(correlationID, input, ErrTransactionFailed, err, start)
		}
		referencingPaths = dedupPaths(scan.References)
		totalReferences = scan.TotalReferences
	}

	tx, err := c.txn.Plan(txn.PlanInput{
		CorrelationID:    correlationID,
		OldPath:          oldPath,
		NewPath:          newPath,
		OldName:          oldName,
		NewName:          newName,
		ReferencingPaths: referencingPaths,
	})
	if err != nil {
		return c.fail(correlationID, input, classifyPlanError(err), err, start)
	}

	prepareStart := c.config.clock()()
	if err := c.txn.Prepare(tx); err != nil {
		return c.fail(correlationID, input, ErrTransactionFailed, err, start)
	}
	prepareMs := c.config.clock()().Sub(prepareStart).Milliseconds()

	commitStart := c.config.clock()()
	commitErr := c.txn.Commit(tx)
	commitMs := c.config.clock()().Sub(commitStart).Milliseconds()

	if commitErr != nil {
		code := classifyCommitError(commitErr)
		out := c.fail(correlationID, input, code, commitErr, start)
		out.TransactionMetadata = map[string]string{"phase_reached": string(tx.State)}
		return out
	}

	// Cleanup failures are cosmetic (leftover staged/backup files); the
	// rename itself already succeeded.
	_ = c.txn.Cleanup(tx)

	c.invalidateCache(oldPath, newPath, tx.Manifest.LinkUpdates)

	total := c.config.clock()().Sub(start).Milliseconds()
	out := Output{
		Success:       true,
		OldPath:       oldPath,
		NewPath:       newPath,
		CorrelationID: correlationID,
		UpdatedCount:  len(tx.Manifest.LinkUpdates),
		Metrics:       Metrics{ScanMs: scanMs, PrepareMs: prepareMs, CommitMs: commitMs, TotalMs: total},
	}

	c.sink.Record(telemetry.Record{
		CorrelationID:   correlationID,
		Success:         true,
		UpdatedCount:    out.UpdatedCount,
		TotalReferences: totalReferences,
		ScanMs:          scanMs,
		PrepareMs:       prepareMs,
		CommitMs:        commitMs,
		TotalMs:         total,
	})

	return out
}

func (c *Coordinator) fail(correlationID string, input Input, code ErrorCode, err error, start time.Time) Output {
	total := c.config.clock()().Sub(start).Milliseconds()
	out := Output{
		Success:       false,
		OldPath:       input.OldPath,
		NewPath:       input.NewPath,
		CorrelationID: correlationID,
		ErrorCode:     code,
		Error:         err.Error(),
		Metrics:       Metrics{TotalMs: total},
	}
	c.sink.Record(telemetry.Record{
		CorrelationID: correlationID,
		Success:       false,
		ErrorCode:     string(code),
		TotalMs:       total,
	})
	return out
}

func (c *Coordinator) invalidateCache(oldPath, newPath string, updates []wal.LinkUpdateEntry) {
	type invalidator interface {
		Invalidate(path string)
	}
	inv, ok := c.cache.(invalidator)
	if !ok {
		return
	}
	inv.Invalidate(oldPath)
	inv.Invalidate(newPath)
	for _, u := range updates {
		inv.Invalidate(u.Path)
	}
}

// reservedTargetChars are wikilink grammar delimiters (spec §8 boundary
// behaviors); a target name containing any of them can never round-trip
// through [[target]] unambiguously, so it is rejected up front.
const reservedTargetChars = "#|[]"

func normalize(oldPath, newPath string) (string, string, error) {
	oldPath = strings.TrimSpace(oldPath)
	newPath = strings.TrimSpace(newPath)
	if oldPath == "" || newPath == "" {
		return "", "", fmt.Errorf("old_path and new_path are required")
	}
	oldPath = notecache.NormalizePath(oldPath)
	newPath = notecache.NormalizePath(newPath)
	if !strings.HasSuffix(strings.ToLower(newPath), ".md") {
		return "", "", fmt.Errorf("new_path must end in .md")
	}
	if strings.ContainsAny(stem(newPath), reservedTargetChars) {
		return "", "", fmt.Errorf("new_path name must not contain any of %q", reservedTargetChars)
	}
	if strings.EqualFold(oldPath, newPath) {
		return "", "", fmt.Errorf("old_path and new_path must differ")
	}
	return oldPath, newPath, nil
}

func stem(notePath string) string {
	base := path.Base(notePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func dedupPaths(refs []linkscan.Reference) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range refs {
		if seen[r.SourcePath] {
			continue
		}
		seen[r.SourcePath] = true
		out = append(out, r.SourcePath)
	}
	return out
}

func classifyPlanError(err error) ErrorCode {
	if errors.Is(err, txn.ErrTransactionFailed) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "source note not found"):
			return ErrSourceNotFound
		case strings.Contains(msg, "destination already exists"):
			return ErrDestinationInvalid
		case strings.Contains(msg, "destination path"):
			return ErrDestinationInvalid
		}
	}
	return ErrTransactionFailed
}

func classifyCommitError(err error) ErrorCode {
	switch {
	case errors.Is(err, txn.ErrUnrecoverable):
		return ErrUnrecoverableCode
	case errors.Is(err, txn.ErrPartialFailure):
		if errors.Is(err, txn.ErrHashMismatch) {
			return ErrHashMismatchCode
		}
		return ErrPartialFailureCode
	default:
		return ErrTransactionFailed
	}
}
