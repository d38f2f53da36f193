// Package linkscan implements the LinkScanner component (spec §4.3): it
// walks a vault snapshot looking for wikilinks that reference a given
// note name, honoring code-fence and frontmatter exclusion rules shared
// with pkg/linkupdate via pkg/wikilink (invariant I4).
package linkscan

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/atomicobject/vault-rename/pkg/notecache"
	"github.com/atomicobject/vault-rename/pkg/wikilink"
)

// ErrInvalidInput is returned for an empty target name (spec §4.3 edge case).
var ErrInvalidInput = errors.New("linkscan: target name is required")

// Cache is the subset of the NoteCache contract the scanner consumes.
type Cache interface {
	GetAll(ctx context.Context) ([]notecache.Entry, error)
}

// Options controls scan behavior (spec §4.3).
type Options struct {
	CaseSensitive   bool
	IncludeEmbeds   bool
	SkipCodeBlocks  bool
	SkipFrontmatter bool
}

// DefaultOptions matches spec.md's stated defaults: case-insensitive,
// embeds included, code blocks skipped, and frontmatter scanned
// (SkipFrontmatter false, which is also what rename operations use).
var DefaultOptions = Options{
	CaseSensitive:   false,
	IncludeEmbeds:   true,
	SkipCodeBlocks:  true,
	SkipFrontmatter: false,
}

// Reference is a single wikilink occurrence that targets the requested name.
type Reference struct {
	SourcePath  string
	SourceNote  string
	TargetNote  string
	LinkText    string
	Line        int
	Column      int
	Alias       string
	Heading     string
	Block       string
	IsEmbed     bool
	IsAmbiguous bool

	// TargetStart/TargetEnd locate the target capture within the
	// source file's bytes, letting the updater splice a replacement in
	// place (I4: scanner and updater share one grammar and one set of
	// offsets).
	TargetStart, TargetEnd int
}

// ScanResult is the output of ScanVault.
type ScanResult struct {
	TargetNote      string
	TotalReferences int
	ScannedNotes    int
	References      []Reference
	ScanTimeMs      int64
	UsedCache       bool
	Warnings        []string
}

// ScanVault scans every note in the cache for references to targetName.
func ScanVault(ctx context.Context, cache Cache, targetName string, opts Options) (ScanResult, error) {
	targetName = strings.TrimSpace(targetName)
	if targetName == "" {
		return ScanResult{}, ErrInvalidInput
	}

	start := time.Now()

	entries, err := cache.GetAll(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("linkscan: read vault: %w", err)
	}

	ambiguous := stemOccurrences(entries, targetName, opts.CaseSensitive) > 1

	result := ScanResult{
		TargetNote:   targetName,
		ScannedNotes: len(entries),
		UsedCache:    true,
	}

	for _, entry := range entries {
		refs := scanEntry(entry, targetName, ambiguous, opts)
		result.References = append(result.References, refs...)
	}

	result.TotalReferences = len(result.References)
	result.ScanTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func scanEntry(entry notecache.Entry, targetName string, ambiguous bool, opts Options) []Reference {
	content := string(entry.Bytes)

	var excluded []wikilink.Range
	if opts.SkipCodeBlocks {
		excluded = append(excluded, wikilink.CodeFenceRanges(content)...)
	}
	if opts.SkipFrontmatter {
		if r, ok := wikilink.FrontmatterRange(content); ok {
			excluded = append(excluded, r)
		}
	}

	var refs []Reference
	for _, m := range wikilink.FindAll(content) {
		if m.Embed && !opts.IncludeEmbeds {
			continue
		}
		if wikilink.InRanges(excluded, m.Start) {
			continue
		}
		if !sameStem(m.Target, targetName, opts.CaseSensitive) {
			continue
		}

		line, col := lineAndColumn(content, m.Start)
		refs = append(refs, Reference{
			SourcePath:  entry.Path,
			SourceNote:  stem(entry.Path),
			TargetNote:  targetName,
			LinkText:    m.Raw,
			Line:        line,
			Column:      col,
			Alias:       m.Alias,
			Heading:     m.Heading,
			Block:       m.Block,
			IsEmbed:     m.Embed,
			IsAmbiguous: ambiguous,
			TargetStart: m.TargetStart,
			TargetEnd:   m.TargetEnd,
		})
	}
	return refs
}

// stemOccurrences counts how many distinct notes share targetName as
// their file stem, used to mark ambiguous targets (spec §3, Data Model).
func stemOccurrences(entries []notecache.Entry, targetName string, caseSensitive bool) int {
	count := 0
	for _, e := range entries {
		if sameStem(stem(e.Path), targetName, caseSensitive) {
			count++
		}
	}
	return count
}

func stem(notePath string) string {
	base := path.Base(notePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// sameStem compares a wikilink target (which may include a folder
// prefix, e.g. "Projects/source") against a bare note stem, matching on
// the final path segment so folder-qualified links still resolve.
func sameStem(linkTarget, targetName string, caseSensitive bool) bool {
	linkStem := stem(strings.TrimSuffix(linkTarget, ".md"))
	if caseSensitive {
		return linkStem == targetName
	}
	return strings.EqualFold(linkStem, targetName)
}

// lineAndColumn converts a byte offset into 1-based line/column, with
// column measured in UTF-8 code points per spec §4.3.
func lineAndColumn(content string, offset int) (line, column int) {
	line = 1
	lastNewline := -1
	for i := 0; i < offset; i++ {
		if content[i] == '\n' {
			line++
			lastNewline = i
		}
	}
	// Count runes (not bytes) from the start of the line to offset.
	column = 1
	for i := lastNewline + 1; i < offset; {
		_, size := decodeRuneLen(content[i])
		i += size
		column++
	}
	return line, column
}

// decodeRuneLen returns the byte length of the UTF-8 rune starting at b
// (the leading byte). It is a minimal stand-in for utf8.DecodeRuneInString
// when only the length is needed.
func decodeRuneLen(b byte) (rune, int) {
	switch {
	case b < 0x80:
		return rune(b), 1
	case b&0xE0 == 0xC0:
		return 0, 2
	case b&0xF0 == 0xE0:
		return 0, 3
	case b&0xF8 == 0xF0:
		return 0, 4
	default:
		return 0, 1
	}
}
