package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves to a location
// inside safeDir, following symlinks on the real filesystem. A path that does
// not exist yet is checked against its nearest existing parent.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	if !within(canonicalize(absPath), canonicalSafeDir) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in p, or in its deepest existing ancestor
// when p itself does not exist.
func canonicalize(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, p)
			return filepath.Join(resolved, rel)
		}
		if dir == filepath.Dir(dir) {
			return p
		}
	}
}

// WithinDirectory reports whether path lies lexically inside dir. It does not
// touch the filesystem, so it also works for in-memory trees.
func WithinDirectory(path, dir string) bool {
	return within(filepath.Clean(path), filepath.Clean(dir))
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// SanitizeFilename replaces every space in name with an underscore, the
// renaming applied to input directories and output files before they are
// handed to external tools that split on whitespace. Path separators are
// left alone so that whole relative paths can be passed through.
func SanitizeFilename(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// ValidateBaseName rejects names that would not stay a single path element.
func ValidateBaseName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name %q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name %q contains a NUL byte", name)
	}
	return nil
}
