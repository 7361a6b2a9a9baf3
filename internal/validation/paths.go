package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateLabel checks a composite label, which becomes part of a file name.
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q: use letters, digits, '-' and '_'", label)
	}
	return nil
}

// CleanPath rejects paths with NUL or control characters or traversal
// components and returns the cleaned absolute path.
func CleanPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	for _, char := range path {
		if char < 32 && char != '\t' {
			return "", fmt.Errorf("path contains control characters")
		}
	}
	for _, component := range strings.Split(filepath.ToSlash(path), "/") {
		if component == ".." {
			return "", fmt.Errorf("directory traversal not allowed: %s", path)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %w", err)
	}
	return filepath.Clean(abs), nil
}

// EnsureDirectory validates path and creates it if missing.
func EnsureDirectory(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(clean)
	switch {
	case err == nil && !info.IsDir():
		return "", fmt.Errorf("path exists but is not a directory: %s", clean)
	case err == nil:
		return clean, nil
	case !os.IsNotExist(err):
		return "", fmt.Errorf("checking directory: %w", err)
	}

	if err := os.MkdirAll(clean, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return clean, nil
}

// EnsureParent validates a file path and creates its parent directory.
func EnsureParent(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if info, statErr := os.Stat(clean); statErr == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", clean)
	}
	if _, err := EnsureDirectory(filepath.Dir(clean)); err != nil {
		return "", err
	}
	return clean, nil
}
