package wikilink

import "strings"

// Range is a half-open byte range [Start, End) within a scanned document.
type Range struct {
	Start, End int
}

// contains reports whether offset falls inside the range.
func (r Range) contains(offset int) bool {
	return offset >= r.Start && offset < r.End
}

// CodeFenceRanges returns the byte ranges of fenced code blocks (``` or
// ~~~) in content. A fence must open on its own line (only the fence
// marker and optional info string) and is closed by a line carrying a
// fence of the same character and at least the same length (I6). An
// unterminated fence runs to the end of the document, matching how
// Markdown renderers treat a dangling opening fence.
//
// Four-space indented code blocks are not tracked: spec.md marks that
// case optional ("indented four-space blocks optional") and the engine
// never exercises it against real vault content in the pack this was
// grounded on.
func CodeFenceRanges(content string) []Range {
	var ranges []Range

	type openFence struct {
		char  byte
		length int
		start int // byte offset of the line start that opened the fence
	}

	var open *openFence
	offset := 0
	for _, line := range splitKeepEnds(content) {
		trimmed := strings.TrimSpace(strings.TrimRight(line, "\r\n"))
		if open == nil {
			if ch, n, ok := fenceMarker(trimmed); ok {
				open = &openFence{char: ch, length: n, start: offset}
			}
		} else {
			if ch, n, ok := fenceMarker(trimmed); ok && ch == open.char && n >= open.length && n == len(trimmed) {
				ranges = append(ranges, Range{Start: open.start, End: offset + len(line)})
				open = nil
			}
		}
		offset += len(line)
	}
	if open != nil {
		ranges = append(ranges, Range{Start: open.start, End: len(content)})
	}

	return ranges
}

// fenceMarker reports whether a trimmed line is purely a fence marker
// (``` / ~~~, length >= 3), optionally followed by an info string on the
// opening line. The character and run length are returned.
func fenceMarker(trimmed string) (byte, int, bool) {
	if trimmed == "" {
		return 0, 0, false
	}
	ch := trimmed[0]
	if ch != '`' && ch != '~' {
		return 0, 0, false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	if n < 3 {
		return 0, 0, false
	}
	// Backtick fences cannot have a backtick in their info string; that
	// would be ambiguous with inline code. Tilde fences have no such
	// restriction.
	if ch == '`' && strings.ContainsRune(trimmed[n:], '`') {
		return 0, 0, false
	}
	return ch, n, true
}

// splitKeepEnds splits content into lines, retaining the trailing
// newline on each element so callers can compute byte offsets by
// summing lengths instead of re-scanning for separators.
func splitKeepEnds(content string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// InRanges reports whether offset lies within any of ranges.
func InRanges(ranges []Range, offset int) bool {
	for _, r := range ranges {
		if r.contains(offset) {
			return true
		}
	}
	return false
}
