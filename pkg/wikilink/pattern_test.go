package wikilink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAll_BasicVariants(t *testing.T) {
	content := `[[source]] then [[source|Click]] and [[source#Intro]] and [[source#^b1]] and ![[source]]`

	matches := FindAll(content)
	require.Len(t, matches, 5)

	assert.Equal(t, "source", matches[0].Target)
	assert.False(t, matches[0].Embed)
	assert.Empty(t, matches[0].Alias)

	assert.Equal(t, "source", matches[1].Target)
	assert.Equal(t, "Click", matches[1].Alias)

	assert.Equal(t, "source", matches[2].Target)
	assert.Equal(t, "Intro", matches[2].Heading)

	assert.Equal(t, "source", matches[3].Target)
	assert.Equal(t, "b1", matches[3].Block)

	assert.Equal(t, "source", matches[4].Target)
	assert.True(t, matches[4].Embed)
}

func TestFindAll_HeadingAndAlias(t *testing.T) {
	matches := FindAll("[[source#Intro|Click Here]]")
	require.Len(t, matches, 1)
	assert.Equal(t, "source", matches[0].Target)
	assert.Equal(t, "Intro", matches[0].Heading)
	assert.Equal(t, "Click Here", matches[0].Alias)
}

func TestFindAll_TargetOffsetsAllowInPlaceSplice(t *testing.T) {
	content := "See [[source#Intro]] for more."
	matches := FindAll(content)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "source", content[m.TargetStart:m.TargetEnd])
}

func TestFindAll_NoMatches(t *testing.T) {
	assert.Nil(t, FindAll("no links here"))
}
