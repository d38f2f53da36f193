package wikilink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontmatterRange_Present(t *testing.T) {
	content := "---\ntitle: Note\nlink: [[source]]\n---\nbody [[source]]\n"
	r, ok := FrontmatterRange(content)
	require.True(t, ok)

	matches := FindAll(content)
	require.Len(t, matches, 2)
	assert.True(t, InRanges([]Range{r}, matches[0].Start))
	assert.False(t, InRanges([]Range{r}, matches[1].Start))
}

func TestFrontmatterRange_AbsentWhenNotFirstLine(t *testing.T) {
	content := "intro\n---\ntitle: Note\n---\n"
	_, ok := FrontmatterRange(content)
	assert.False(t, ok)
}

func TestFrontmatterRange_AbsentWhenUnterminated(t *testing.T) {
	content := "---\ntitle: Note\n"
	_, ok := FrontmatterRange(content)
	assert.False(t, ok)
}

func TestFrontmatterRange_EmptyContent(t *testing.T) {
	_, ok := FrontmatterRange("")
	assert.False(t, ok)
}

func TestParseFrontmatter_DecodesYAMLMap(t *testing.T) {
	content := "---\ntitle: Note\ntags:\n  - a\n  - b\n---\nbody text\n"
	meta, body, err := ParseFrontmatter(content)
	require.NoError(t, err)
	assert.Equal(t, "Note", meta["title"])
	assert.Equal(t, "body text\n", body)
}

func TestParseFrontmatter_NoFrontmatterReturnsContentUnchanged(t *testing.T) {
	meta, body, err := ParseFrontmatter("just a note, no frontmatter\n")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Equal(t, "just a note, no frontmatter\n", body)
}
