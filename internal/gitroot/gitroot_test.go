package gitroot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWalkUpFindsGitDir(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := filepath.Join(root, "environments", "aws")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got := walkUp(nested); got != root {
		t.Fatalf("expected %q, got %q", root, got)
	}
}

func TestWalkUpAcceptsGitFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: ../.git/worktrees/x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := walkUp(root); got != root {
		t.Fatalf("expected %q, got %q", root, got)
	}
}

func TestFindFromFileUsesItsDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := filepath.Join(root, "environments", "google", "prod.tfvars")
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Find(context.Background(), file)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestFindOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	if walkUp(dir) != "" {
		t.Skip("temp dir is inside a git repository")
	}
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	if _, err := Find(context.Background(), dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
