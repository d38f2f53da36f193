// Package linkupdate rewrites wikilink targets in note content. It
// shares the single grammar in pkg/wikilink with pkg/linkscan so that a
// byte offset found by the scanner always lands on the same capture the
// updater splices (spec invariant I4).
//
// Grounded in the teacher's pkg/obsidian/rewrite.go, adapted from a
// whole-document regex rewrite into an offset-preserving splice: the
// spec requires surrounding text stay byte-identical outside the target
// capture, which a ReplaceAllStringFunc rebuild cannot guarantee as
// cleanly as working from FindAll's recorded offsets.
package linkupdate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atomicobject/vault-rename/pkg/linkscan"
	"github.com/atomicobject/vault-rename/pkg/notecache"
	"github.com/atomicobject/vault-rename/pkg/wikilink"
)

// UpdateNoteLinks rewrites every wikilink target in content equal to
// oldName (case-insensitively, by final path segment) to newName,
// leaving alias, heading, block, embed marker, and all surrounding
// bytes untouched. Links inside fenced code blocks are left as they are.
func UpdateNoteLinks(content, oldName, newName string) string {
	matches := wikilink.FindAll(content)
	if len(matches) == 0 {
		return content
	}
	fences := wikilink.CodeFenceRanges(content)

	var b strings.Builder
	b.Grow(len(content))
	cursor := 0
	for _, m := range matches {
		if wikilink.InRanges(fences, m.Start) || !targetMatches(m.Target, oldName) {
			continue
		}
		b.WriteString(content[cursor:m.TargetStart])
		b.WriteString(replacementTarget(m.Target, newName))
		cursor = m.TargetEnd
	}
	b.WriteString(content[cursor:])
	return b.String()
}

// targetMatches compares a wikilink target against oldName by final
// path segment, matching pkg/linkscan's folder-qualified resolution.
func targetMatches(linkTarget, oldName string) bool {
	trimmed := strings.TrimSuffix(linkTarget, ".md")
	base := trimmed
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		base = trimmed[idx+1:]
	}
	return strings.EqualFold(base, strings.TrimSuffix(oldName, ".md"))
}

// replacementTarget substitutes newName for the final path segment of
// linkTarget, preserving any folder prefix and a trailing ".md" if the
// original target carried one explicitly.
func replacementTarget(linkTarget, newName string) string {
	hadExt := strings.HasSuffix(linkTarget, ".md")
	trimmed := strings.TrimSuffix(linkTarget, ".md")

	dir := ""
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		dir = trimmed[:idx+1]
	}

	newBase := strings.TrimSuffix(newName, ".md")
	replacement := dir + newBase
	if hadExt {
		replacement += ".md"
	}
	return replacement
}

// UpdateResult is the outcome of a vault-wide link update pass.
type UpdateResult struct {
	UpdatedCount    int
	TotalReferences int
	FailedFiles     []string
	ScanTimeMs      int64
	UpdateTimeMs    int64
	Rewrites        []Rewrite
}

// Rewrite is a single file whose content changed as a result of the
// update, returned for the caller to write; UpdateVault never touches
// the filesystem itself. pkg/txn does not consume Rewrites: its Plan
// recomputes each file's content with UpdateNoteLinks.
type Rewrite struct {
	SourcePath   string
	OriginalSHA  string
	NewContent   []byte
	ReferenceCnt int
}

// UpdateVault scans the vault for references to oldName via the given
// cache, rewrites each affected file in memory, and returns a staged
// rewrite plan. It never writes to disk — per spec §4.4, that is the
// TransactionManager's job during prepare/commit.
func UpdateVault(ctx context.Context, cache linkscan.Cache, oldName, newName string) (UpdateResult, error) {
	scanStart := time.Now()
	scan, err := linkscan.ScanVault(ctx, cache, oldName, linkscan.Options{
		CaseSensitive:   false,
		IncludeEmbeds:   true,
		SkipCodeBlocks:  true,
		SkipFrontmatter: false,
	})
	if err != nil {
		return UpdateResult{}, fmt.Errorf("linkupdate: scan: %w", err)
	}
	scanTimeMs := time.Since(scanStart).Milliseconds()

	grouped := groupBySourcePath(scan.References)

	entries, err := cache.GetAll(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("linkupdate: read vault: %w", err)
	}
	byPath := make(map[string]notecache.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	updateStart := time.Now()
	result := UpdateResult{
		TotalReferences: scan.TotalReferences,
		ScanTimeMs:      scanTimeMs,
	}

	paths := make([]string, 0, len(grouped))
	for p := range grouped {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		entry, ok := byPath[p]
		if !ok {
			result.FailedFiles = append(result.FailedFiles, p)
			continue
		}
		original := string(entry.Bytes)
		rewritten := UpdateNoteLinks(original, oldName, newName)
		if rewritten == original {
			continue
		}
		result.Rewrites = append(result.Rewrites, Rewrite{
			SourcePath:   p,
			OriginalSHA:  shaHex(entry.Bytes),
			NewContent:   []byte(rewritten),
			ReferenceCnt: len(grouped[p]),
		})
		result.UpdatedCount++
	}

	result.UpdateTimeMs = time.Since(updateStart).Milliseconds()
	return result, nil
}

func groupBySourcePath(refs []linkscan.Reference) map[string][]linkscan.Reference {
	grouped := make(map[string][]linkscan.Reference)
	for _, r := range refs {
		grouped[r.SourcePath] = append(grouped[r.SourcePath], r)
	}
	return grouped
}

func shaHex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
