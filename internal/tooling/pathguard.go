package tooling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// pathGuard confines file operations to the workspace root. Every tool path
// goes through Resolve before touching the filesystem.
type pathGuard struct {
	root string
}

func newPathGuard(root string) (pathGuard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return pathGuard{}, err
	}
	return pathGuard{root: abs}, nil
}

func (p pathGuard) Resolve(path string) (string, error) {
	var target string
	if path == "" {
		target = p.root
	} else if filepath.IsAbs(path) {
		target = path
	} else {
		target = filepath.Join(p.root, path)
	}
	cleaned, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if cleaned != p.root && !strings.HasPrefix(cleaned, p.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes workspace root", path)
	}
	return cleaned, nil
}

func (p pathGuard) Rel(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return path
	}
	return rel
}
