package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuditTrailRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newAuditTrailWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	// Shrink the threshold so two small records force a rotation.
	writer.maxSize = 32

	record := []byte(`{"event":"invocation_succeeded","id":"inv-1"}` + "\n")
	if _, err := writer.Write(record); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := writer.Write(record); err != nil {
		t.Fatalf("second write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var backups int
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "audit.log.") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected 1 timestamped backup, got %d", backups)
	}

	// The active file holds only the record written after rotation.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active file: %v", err)
	}
	if string(data) != string(record) {
		t.Fatalf("unexpected active file content: %q", data)
	}
}

func TestAuditTrailWriterRequiresPath(t *testing.T) {
	if _, err := newAuditTrailWriter("", 1, 1, 1); err == nil {
		t.Fatal("expected error for empty path")
	}
}
