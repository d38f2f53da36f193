package linkupdate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vault-rename/pkg/notecache"
)

type fakeCache struct {
	entries []notecache.Entry
}

func (f fakeCache) GetAll(ctx context.Context) ([]notecache.Entry, error) {
	return f.entries, nil
}

func entry(path, body string) notecache.Entry {
	return notecache.Entry{Path: path, Bytes: []byte(body)}
}

func TestUpdateNoteLinks_RewritesBareTarget(t *testing.T) {
	got := UpdateNoteLinks("See [[source]] for details.", "source", "destination")
	assert.Equal(t, "See [[destination]] for details.", got)
}

func TestUpdateNoteLinks_PreservesAliasHeadingBlockAndEmbed(t *testing.T) {
	got := UpdateNoteLinks(
		"![[source#^blockid]] and [[source#Heading|Shown Text]]",
		"source", "destination",
	)
	assert.Equal(t, "![[destination#^blockid]] and [[destination#Heading|Shown Text]]", got)
}

func TestUpdateNoteLinks_PreservesFolderPrefix(t *testing.T) {
	got := UpdateNoteLinks("[[Projects/source]]", "source", "destination")
	assert.Equal(t, "[[Projects/destination]]", got)
}

func TestUpdateNoteLinks_PreservesExplicitExtension(t *testing.T) {
	got := UpdateNoteLinks("[[source.md]]", "source", "destination")
	assert.Equal(t, "[[destination.md]]", got)
}

func TestUpdateNoteLinks_LeavesNonMatchingLinksUntouched(t *testing.T) {
	input := "[[other]] stays, [[source]] changes."
	got := UpdateNoteLinks(input, "source", "destination")
	assert.Equal(t, "[[other]] stays, [[destination]] changes.", got)
}

func TestUpdateNoteLinks_NoMatchesReturnsInputUnchanged(t *testing.T) {
	input := "Nothing to rewrite here."
	assert.Equal(t, input, UpdateNoteLinks(input, "source", "destination"))
}

func TestUpdateNoteLinks_IsCaseInsensitive(t *testing.T) {
	got := UpdateNoteLinks("[[Source]]", "source", "destination")
	assert.Equal(t, "[[destination]]", got)
}

func TestUpdateVault_StagesRewritesWithoutTouchingDisk(t *testing.T) {
	cache := fakeCache{entries: []notecache.Entry{
		entry("a.md", "Link to [[source]]."),
		entry("b.md", "No link here."),
		entry("source.md", "# Source"),
	}}

	result, err := UpdateVault(context.Background(), cache, "source", "destination")
	require.NoError(t, err)
	require.Equal(t, 1, result.UpdatedCount)
	require.Len(t, result.Rewrites, 1)
	assert.Equal(t, "a.md", result.Rewrites[0].SourcePath)
	assert.Equal(t, "Link to [[destination]].", string(result.Rewrites[0].NewContent))
	assert.Empty(t, result.FailedFiles)
}

func TestUpdateVault_SkipsFilesWhereRewriteIsNoOp(t *testing.T) {
	cache := fakeCache{entries: []notecache.Entry{
		entry("a.md", "![[source]]"),
	}}

	result, err := UpdateVault(context.Background(), cache, "source", "source")
	require.NoError(t, err)
	assert.Equal(t, 0, result.UpdatedCount)
	assert.Empty(t, result.Rewrites)
}
