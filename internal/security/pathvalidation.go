// Package security validates file paths supplied by operators or HTTP
// callers before the mesh layer tools write to them.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory returns an error if filePath, after cleaning and
// symlink resolution, lies outside safeDir. Paths that do not exist yet are
// resolved through their nearest existing parent so a symlinked parent cannot
// be used to escape.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of absPath.
func resolveExisting(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for dir := absPath; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
}

// ValidatePathWithinAllowedDirs accepts filePath if it lies within any of
// allowedDirs.
func ValidatePathWithinAllowedDirs(filePath string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range allowedDirs {
		if err := ValidatePathWithinDirectory(filePath, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of the allowed directories: %v", allowedDirs)
}

// ValidateExportPath accepts paths inside the temp directory or the current
// working directory. Plot exports and map file backups go through it.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(filePath, []string{os.TempDir(), cwd})
}

// SanitizeFilename turns an arbitrary identifier (a layer name, say) into a
// safe file name: runs of characters other than ASCII letters, digits, '.',
// '_' and '-' become a single '_', the result is capped at 128 bytes and
// trimmed of leading/trailing '.' and '_'.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
