package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	idx := filepath.Join(dir, "docs.index")
	if err := os.WriteFile(idx, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	uploads := filepath.Join(dir, "uploads")
	if err := os.MkdirAll(filepath.Join(uploads, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(uploads, "a.txt"), make([]byte, 30), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(uploads, "sub", "b.txt"), make([]byte, 20), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DiskUsageBytes(idx, uploads, filepath.Join(dir, "missing.ledger"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 150 {
		t.Errorf("DiskUsageBytes = %d, want 150", got)
	}
}
