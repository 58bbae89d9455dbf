package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	quarantineDir := filepath.Join(dir, "quarantine")
	filePath := filepath.Join(dir, "broken.cfg")

	os.WriteFile(filePath, []byte("[General\nname = oops\n"), 0644)

	moved, err := Quarantine(quarantineDir, filePath)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	// Original file should be gone
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}

	// Quarantine dir should have the file
	entries, err := os.ReadDir(quarantineDir)
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "broken.cfg.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", entries[0].Name())
	}
	if moved != filepath.Join(quarantineDir, entries[0].Name()) {
		t.Errorf("returned path %q does not match quarantined file %q", moved, entries[0].Name())
	}
}

func TestQuarantine_MissingFile(t *testing.T) {
	dir := t.TempDir()
	quarantineDir := filepath.Join(dir, "quarantine")

	_, err := Quarantine(quarantineDir, filepath.Join(dir, "absent.cfg"))
	if err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestQuarantine_CreatesNestedDir(t *testing.T) {
	dir := t.TempDir()
	quarantineDir := filepath.Join(dir, "var", "quarantine")
	filePath := filepath.Join(dir, "mission.cfg")
	os.WriteFile(filePath, []byte("x"), 0644)

	moved, err := Quarantine(quarantineDir, filePath)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("quarantined file not readable: %v", err)
	}
}
