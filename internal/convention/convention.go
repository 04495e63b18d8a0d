// Package convention validates the on-disk layout astrodeploy relies on: a vars file
// must live in a directory named after a registered platform label
// (environments/google/prod.tfvars, environments/aws/prod.tfvars, ...), and the state
// file must either exist or be creatable in an existing directory.
package convention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrConvention matches any ConventionError.
	ErrConvention = errors.New("path convention violated")
)

// NotFoundError reports a required path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no such file or directory", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConventionError reports a vars file placed outside a platform directory.
type ConventionError struct {
	Dir   string
	Valid []string
}

func (e *ConventionError) Error() string {
	return fmt.Sprintf("the vars file should be placed in a directory with one of the following names: %s (got %q)",
		strings.Join(e.Valid, ", "), e.Dir)
}

func (e *ConventionError) Is(target error) bool { return target == ErrConvention }

// Resolved is a validated vars file.
type Resolved struct {
	Path     string
	Platform string
}

// ResolveVarsFile checks that path names a regular file whose parent directory is one
// of labels. The returned path is absolute and symlink-free; the platform is taken from
// the path as given so that a symlinked vars file keeps the label of the directory it
// was placed in.
func ResolveVarsFile(path string, labels []string) (Resolved, error) {
	expanded, err := expand(path)
	if err != nil {
		return Resolved{}, err
	}
	info, err := os.Stat(expanded)
	if err != nil || !info.Mode().IsRegular() {
		return Resolved{}, &NotFoundError{Path: path}
	}
	label := Platform(expanded)
	if !contains(labels, label) {
		valid := append([]string(nil), labels...)
		sort.Strings(valid)
		return Resolved{}, &ConventionError{Dir: label, Valid: valid}
	}
	real, err := filepath.EvalSymlinks(expanded)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve vars file: %w", err)
	}
	return Resolved{Path: real, Platform: label}, nil
}

// ResolveStateFile normalizes path and checks it is an existing regular file or has an
// existing parent directory.
func ResolveStateFile(path string) (string, error) {
	expanded, err := expand(path)
	if err != nil {
		return "", err
	}
	resolved := realpath(expanded)
	if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
		return resolved, nil
	}
	if info, err := os.Stat(filepath.Dir(resolved)); err == nil && info.IsDir() {
		return resolved, nil
	}
	return "", &NotFoundError{Path: resolved}
}

// Platform returns the name of the directory containing path.
func Platform(path string) string {
	return filepath.Base(filepath.Dir(filepath.Clean(path)))
}

func expand(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", &NotFoundError{Path: path}
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", path, err)
	}
	return abs, nil
}

// realpath resolves symlinks in the longest existing prefix of path and appends the
// remainder unchanged.
func realpath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == path {
		return path
	}
	return filepath.Join(realpath(dir), base)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
