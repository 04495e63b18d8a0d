package varsfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prod.tfvars")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadReadsScalarVariables(t *testing.T) {
	path := write(t, `
project        = "astro-prod"
region         = "us-east4"
node_count     = 3
enable_bastion = true
labels = {
  team = "data"
}
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(f.Names(), ","); got != "enable_bastion,labels,node_count,project,region" {
		t.Fatalf("unexpected names %q", got)
	}
	if v, ok := f.String("project"); !ok || v != "astro-prod" {
		t.Fatalf("project = %q, %v", v, ok)
	}
	if v, ok := f.String("node_count"); !ok || v != "3" {
		t.Fatalf("node_count = %q, %v", v, ok)
	}
	if _, ok := f.String("labels"); ok {
		t.Fatalf("expected object variable not to convert to string")
	}
	if _, ok := f.String("missing"); ok {
		t.Fatalf("expected missing variable to report ok=false")
	}
	if v, ok := f.FirstString("aws_region", "region"); !ok || v != "us-east4" {
		t.Fatalf("FirstString = %q, %v", v, ok)
	}
}

func TestLoadRejectsInvalidSyntax(t *testing.T) {
	path := write(t, "project = \n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadRejectsBlocks(t *testing.T) {
	path := write(t, "resource \"x\" \"y\" {}\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for block in vars file")
	}
}

func TestNilFile(t *testing.T) {
	var f *File
	if f.Names() != nil {
		t.Fatalf("expected nil names")
	}
	if _, ok := f.String("x"); ok {
		t.Fatalf("expected ok=false")
	}
}
