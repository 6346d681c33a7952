package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareRemovesStaleDirectory(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	dir, err := m.Prepare("dep-1")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Prepare("dep-1"); err != nil {
		t.Fatalf("second Prepare returned error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale file to be removed by Prepare")
	}
}

func TestCopyIntoCopiesTree(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src, err := m.Prepare("dep-old")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "index.html"), []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Prepare("dep-new"); err != nil {
		t.Fatal(err)
	}
	if err := m.CopyInto(src, "dep-new"); err != nil {
		t.Fatalf("CopyInto returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(m.Path("dep-new"), "nested", "index.html"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "<html>" {
		t.Fatalf("copied file content mismatch: %q", data)
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir, err := m.Prepare("dep-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := WriteSidecar(dir, "dist"); err != nil {
		t.Fatalf("WriteSidecar returned error: %v", err)
	}
	got, err := ReadSidecar(dir)
	if err != nil {
		t.Fatalf("ReadSidecar returned error: %v", err)
	}
	if got != "dist" {
		t.Fatalf("sidecar value = %q, want %q", got, "dist")
	}
}

func TestCleanupRefusesPathsOutsideRoot(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := m.Cleanup(outside); err == nil {
		t.Fatal("expected Cleanup to refuse a path outside the root")
	}
}

func TestCopyDirSkipsNames(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	skip := map[string]struct{}{"node_modules": {}}
	if err := CopyDir(src, dst, skip); err != nil {
		t.Fatalf("CopyDir returned error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "node_modules")); !os.IsNotExist(err) {
		t.Fatal("expected node_modules to be skipped")
	}
	if _, err := os.Stat(filepath.Join(dst, "index.html")); err != nil {
		t.Fatal("expected index.html to be copied")
	}
}
