// gitroot.go locates the repository that holds the Terraform root module, the helm home
// and the generated kubeconfig.
package gitroot

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when start is not inside a git work tree.
var ErrNotFound = errors.New("not inside a git repository")

// Find returns the absolute, symlink-free top level of the git work tree containing
// start. It asks git first and falls back to looking for a .git entry when the git
// binary is unavailable.
func Find(ctx context.Context, start string) (string, error) {
	start = strings.TrimSpace(start)
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = wd
	}
	if info, err := os.Stat(start); err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}
	if root, err := showToplevel(ctx, start); err == nil && root != "" {
		return normalize(root), nil
	}
	if root := walkUp(start); root != "" {
		return normalize(root), nil
	}
	return "", ErrNotFound
}

func showToplevel(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func walkUp(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	current := abs
	for {
		// .git is a directory in a clone and a file in a worktree or submodule
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}
