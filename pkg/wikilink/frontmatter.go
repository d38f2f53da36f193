package wikilink

import (
	"strings"

	"github.com/adrg/frontmatter"
)

// frontmatterDelimiter is the YAML frontmatter fence Obsidian recognizes.
const frontmatterDelimiter = "---"

// FrontmatterRange returns the byte range of the YAML frontmatter block,
// per I5: frontmatter is the region between the first "---" and the next
// "---" when "---" appears on line 1. The returned range spans from the
// start of content through the closing delimiter line (inclusive), so
// callers can exclude or include it wholesale. ok is false when content
// has no line-1 "---" or no closing delimiter.
func FrontmatterRange(content string) (r Range, ok bool) {
	lines := splitKeepEnds(content)
	if len(lines) == 0 {
		return Range{}, false
	}
	if strings.TrimSpace(strings.TrimRight(lines[0], "\r\n")) != frontmatterDelimiter {
		return Range{}, false
	}

	offset := len(lines[0])
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(strings.TrimRight(line, "\r\n")) == frontmatterDelimiter {
			return Range{Start: 0, End: offset + len(line)}, true
		}
		offset += len(line)
	}
	return Range{}, false
}

// ParseFrontmatter decodes content's YAML frontmatter block into a map,
// returning the body that follows it. meta is nil and body equals
// content unchanged when no frontmatter block is present; this is
// informational only (NoteCache's "parsed frontmatter" field, spec §3)
// and is never fed back into a rewrite, so I5's byte-identity guarantee
// for unrelated frontmatter content is unaffected by a parse failure.
func ParseFrontmatter(content string) (meta map[string]interface{}, body string, err error) {
	rest, err := frontmatter.Parse(strings.NewReader(content), &meta)
	if err != nil {
		return nil, content, err
	}
	return meta, string(rest), nil
}
