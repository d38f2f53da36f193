// Package wikilink holds the single compiled grammar for Obsidian-style
// wikilinks shared by every scanning and rewriting component in the
// rename engine (invariant I4: one wikilink regex, no divergence between
// scanner and updater).
package wikilink

import "regexp"

// Pattern is the one and only wikilink regex used across the engine.
// Capture groups, in order: embed marker, target, block id, heading,
// alias. At most one of block/heading is present; both are optional.
//
//	[[Target]]                basic
//	[[Target|Alias]]          alias
//	[[Target#Heading]]        heading
//	[[Target#Heading|Alias]]  heading + alias
//	[[Target#^blockid]]       block reference
//	![[Target]]               embed
var Pattern = regexp.MustCompile(
	`(?P<embed>!)?\[\[(?P<target>[^|#\]]+)(?:#(?:\^(?P<block>[^|\]]+)|(?P<heading>[^|\]]+)))?(?:\|(?P<alias>[^\]]+))?\]\]`,
)

// groupIndex caches Pattern's named-group positions; FindSubmatch result
// slices are indexed by these constants rather than magic numbers.
var groupIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, name := range Pattern.SubexpNames() {
		if name != "" {
			idx[name] = i
		}
	}
	return idx
}()

// Match is a single parsed wikilink occurrence within a byte slice.
type Match struct {
	// Raw is the full matched text, e.g. "[[Target#Heading|Alias]]".
	Raw string
	// Start and End are byte offsets of Raw within the scanned content.
	Start, End int
	// TargetStart and TargetEnd are byte offsets of just the target
	// capture, used by the updater to splice in a replacement without
	// touching any other byte.
	TargetStart, TargetEnd int

	Embed   bool
	Target  string
	Heading string // empty when absent; never has a leading "#"
	Block   string // empty when absent; never has a leading "^"
	Alias   string // empty when absent
}

// FindAll returns every wikilink occurrence in content, in order of
// appearance. Callers that need to exclude code fences or frontmatter
// should pre-filter the returned matches using Ranges from fence.go /
// frontmatter.go rather than pre-editing content, so that Start/End
// offsets stay valid against the original bytes.
func FindAll(content string) []Match {
	idxs := Pattern.FindAllStringSubmatchIndex(content, -1)
	if len(idxs) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(idxs))
	for _, m := range idxs {
		matches = append(matches, buildMatch(content, m))
	}
	return matches
}

func buildMatch(content string, m []int) Match {
	group := func(name string) (string, int, int) {
		i := groupIndex[name]
		start, end := m[2*i], m[2*i+1]
		if start < 0 {
			return "", -1, -1
		}
		return content[start:end], start, end
	}

	target, tStart, tEnd := group("target")
	heading, _, _ := group("heading")
	block, _, _ := group("block")
	alias, _, _ := group("alias")
	embedText, _, _ := group("embed")

	return Match{
		Raw:         content[m[0]:m[1]],
		Start:       m[0],
		End:         m[1],
		TargetStart: tStart,
		TargetEnd:   tEnd,
		Embed:       embedText == "!",
		Target:      target,
		Heading:     heading,
		Block:       block,
		Alias:       alias,
	}
}
