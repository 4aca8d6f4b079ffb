// Package paths resolves the on-disk layout shared by the three pipeline
// daemons (config file location, alert spool directory) and guards against
// path traversal when a directory is built from operator-supplied elements.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDataRoot = "/var/lib/trinetra"
	DefaultConfDir  = "/etc/trinetra"
)

// ResolveDataRoot returns the root directory for runtime state (alert
// spool, cache files), overridable for tests and non-FHS deployments.
func ResolveDataRoot() string {
	root := os.Getenv("TRINETRA_DATA_ROOT")
	if root == "" {
		root = DefaultDataRoot
	}
	return root
}

// ResolveConfigPath returns customPath unchanged if set, otherwise the
// default cameras.yaml location under DefaultConfDir.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	return filepath.Join(DefaultConfDir, "cameras.yaml")
}

// EnsureDirs creates the standard data-root subdirectories if absent.
func EnsureDirs() error {
	dataRoot := ResolveDataRoot()
	subdirs := []string{"spool", "cache", "tmp"}

	for _, sub := range subdirs {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements onto base and rejects the result if it
// would escape base via an absolute element or a ".." traversal.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path or UNC not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(absJoined, absBase) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
