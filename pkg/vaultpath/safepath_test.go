package vaultpath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_JoinsRelativePathInsideVault(t *testing.T) {
	got, err := Resolve("/vault", "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/vault", "notes", "a.md"), got)
}

func TestResolve_RejectsAbsoluteRelativePath(t *testing.T) {
	_, err := Resolve("/vault", "/etc/passwd")
	assert.Error(t, err)
}

func TestResolve_RejectsTraversalOutsideVault(t *testing.T) {
	_, err := Resolve("/vault", "../outside.md")
	assert.Error(t, err)
}

func TestResolve_RejectsEmptyPath(t *testing.T) {
	_, err := Resolve("/vault", "   ")
	assert.Error(t, err)
}

func TestRel_ReturnsForwardSlashRelativePath(t *testing.T) {
	got, err := Rel("/vault", filepath.Join("/vault", "sub", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "sub/a.md", got)
}
