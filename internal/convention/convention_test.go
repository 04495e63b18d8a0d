package convention

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
)

var labels = []string{"google", "aws"}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("region = \"us-east-1\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestResolveVarsFileDerivesPlatformFromParentDir(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, filepath.Join(root, "environments", "aws", "prod.tfvars"))

	got, err := ResolveVarsFile(path, labels)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Platform != "aws" {
		t.Fatalf("expected platform aws, got %q", got.Platform)
	}
	want, _ := filepath.EvalSymlinks(path)
	if got.Path != want {
		t.Fatalf("expected resolved path %q, got %q", want, got.Path)
	}
}

func TestResolveVarsFileRejectsUnknownDirectory(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, filepath.Join(root, "environments", "azure", "prod.tfvars"))

	before := listTree(t, root)
	_, err := ResolveVarsFile(path, labels)
	if !errors.Is(err, ErrConvention) {
		t.Fatalf("expected convention error, got %v", err)
	}
	var convErr *ConventionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConventionError, got %T", err)
	}
	if strings.Join(convErr.Valid, ",") != "aws,google" {
		t.Fatalf("expected sorted valid labels, got %v", convErr.Valid)
	}
	if !strings.Contains(err.Error(), "aws, google") {
		t.Fatalf("expected message to list labels, got %q", err.Error())
	}
	if after := listTree(t, root); strings.Join(before, "\n") != strings.Join(after, "\n") {
		t.Fatalf("validation touched the filesystem:\nbefore=%v\nafter=%v", before, after)
	}
}

func TestResolveVarsFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aws", "missing.tfvars")
	_, err := ResolveVarsFile(path, labels)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Path != path {
		t.Fatalf("expected NotFoundError for %q, got %v", path, err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is(ErrNotFound)")
	}
}

func TestResolveVarsFileRejectsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "google", "prod.tfvars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := ResolveVarsFile(dir, labels); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for a directory, got %v", err)
	}
}

func TestResolveVarsFileKeepsLabelOfSymlinkLocation(t *testing.T) {
	root := t.TempDir()
	target := writeFile(t, filepath.Join(root, "shared", "prod.tfvars"))
	link := filepath.Join(root, "environments", "google", "prod.tfvars")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := ResolveVarsFile(link, labels)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Platform != "google" {
		t.Fatalf("expected google, got %q", got.Platform)
	}
	want, _ := filepath.EvalSymlinks(target)
	if got.Path != want {
		t.Fatalf("expected %q, got %q", want, got.Path)
	}
}

func TestResolveStateFile(t *testing.T) {
	root := t.TempDir()
	realRoot, _ := filepath.EvalSymlinks(root)
	existing := writeFile(t, filepath.Join(root, "state", "existing.tfstate"))

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "existing file", path: existing, want: filepath.Join(realRoot, "state", "existing.tfstate")},
		{name: "creatable", path: filepath.Join(root, "state", "new.tfstate"), want: filepath.Join(realRoot, "state", "new.tfstate")},
		{name: "missing parent", path: filepath.Join(root, "nope", "new.tfstate"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveStateFile(tt.path)
			if tt.wantErr {
				var nf *NotFoundError
				if !errors.As(err, &nf) {
					t.Fatalf("expected NotFoundError, got %v", err)
				}
				if nf.Path != filepath.Join(realRoot, "nope", "new.tfstate") {
					t.Fatalf("expected resolved path in error, got %q", nf.Path)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolveStateFileExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	got, err := ResolveStateFile("~/terraform.tfstate")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	realHome, _ := filepath.EvalSymlinks(home)
	if got != filepath.Join(realHome, "terraform.tfstate") {
		t.Fatalf("unexpected path %q", got)
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	return out
}
