package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal   = errors.New("path traversal detected")
	ErrPathOutsideRoot = errors.New("path escapes the documents dir")
	ErrSymlinkEscape   = errors.New("symlink escape detected")
	ErrAbsolutePath    = errors.New("absolute path not allowed")
	ErrInvalidPath     = errors.New("invalid path")
)

var traversalPatterns = []string{
	"%2e%2e",
	"%252e%252e",
	"..%2f",
	"%2f..",
	"..\\",
	"\\..\\",
}

// ResolveInside joins rel onto root and returns the cleaned relative form.
// rel must be relative and must stay below root, both lexically and through
// symlinks already on disk.
func ResolveInside(root, rel string) (string, error) {
	if rel == "" {
		return "", ErrInvalidPath
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", ErrAbsolutePath
	}
	if containsTraversalPattern(rel) {
		return "", ErrPathTraversal
	}

	rootPath, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", ErrInvalidPath
	}

	target := filepath.Join(rootPath, rel)
	if target != rootPath && !strings.HasPrefix(target, rootPath+string(os.PathSeparator)) {
		return "", ErrPathOutsideRoot
	}
	if err := checkSymlinkEscape(target, rootPath); err != nil {
		return "", err
	}

	cleaned, err := filepath.Rel(rootPath, target)
	if err != nil {
		return "", ErrInvalidPath
	}
	return filepath.ToSlash(cleaned), nil
}

func containsTraversalPattern(path string) bool {
	lower := strings.ToLower(path)
	for _, pattern := range traversalPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// checkSymlinkEscape walks target from root and rejects any existing
// symlink that resolves outside root. Missing components are fine, they
// are created on move.
func checkSymlinkEscape(target, root string) error {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return ErrPathOutsideRoot
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = root
	}

	current := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		if part == "" || part == "." {
			continue
		}
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return ErrInvalidPath
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		resolved, err := filepath.EvalSymlinks(current)
		if err != nil {
			return ErrSymlinkEscape
		}
		resolved = filepath.Clean(resolved)
		if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) {
			return ErrSymlinkEscape
		}
	}
	return nil
}
