// Package vaultpath resolves vault-relative note paths to absolute
// filesystem paths, rejecting any traversal outside the vault root.
//
// Grounded on the teacher's pkg/obsidian/path_safety.go (SafeJoinVaultPath).
package vaultpath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolve joins vaultPath and relativePath, returning an error if the
// result would escape the vault.
func Resolve(vaultPath, relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("vaultpath: absolute paths are not allowed: %s", relativePath)
	}
	cleaned := filepath.Clean(strings.TrimSpace(relativePath))
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("vaultpath: note path cannot be empty")
	}

	absVault, err := filepath.Abs(vaultPath)
	if err != nil {
		return "", fmt.Errorf("vaultpath: resolve vault path: %w", err)
	}

	joined := filepath.Join(absVault, filepath.FromSlash(cleaned))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("vaultpath: resolve note path: %w", err)
	}

	if absJoined != absVault && !strings.HasPrefix(absJoined, absVault+string(filepath.Separator)) {
		return "", fmt.Errorf("vaultpath: note path escapes vault: %s", relativePath)
	}

	return absJoined, nil
}

// Rel converts an absolute path known to be inside vaultPath back to a
// forward-slash vault-relative path, matching the cache's path convention.
func Rel(vaultPath, absPath string) (string, error) {
	absVault, err := filepath.Abs(vaultPath)
	if err != nil {
		return "", fmt.Errorf("vaultpath: resolve vault path: %w", err)
	}
	rel, err := filepath.Rel(absVault, absPath)
	if err != nil {
		return "", fmt.Errorf("vaultpath: relativize %s: %w", absPath, err)
	}
	return filepath.ToSlash(rel), nil
}
