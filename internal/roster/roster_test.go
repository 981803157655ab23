package roster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResponsibleForAndRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(`{"100": "42", "200": ""}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	d := NewFileDirectory(path, nil)

	if id, ok := d.ResponsibleFor("100"); !ok || id != "42" {
		t.Errorf("ResponsibleFor(100) = %q, %v", id, ok)
	}
	if _, ok := d.ResponsibleFor("200"); ok {
		t.Error("empty responsible id must count as unassigned")
	}
	if _, ok := d.ResponsibleFor("999"); ok {
		t.Error("unknown chat must be unassigned")
	}

	if err := os.WriteFile(path, []byte(`{"100": "77"}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := d.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if id, _ := d.ResponsibleFor("100"); id != "77" {
		t.Errorf("after refresh = %q, want 77", id)
	}
}

func TestRefreshFailureKeepsOldMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	os.WriteFile(path, []byte(`{"100": "42"}`), 0o644)
	d := NewFileDirectory(path, nil)

	os.WriteFile(path, []byte(`{broken`), 0o644)
	if err := d.Refresh(); err == nil {
		t.Fatal("expected parse error")
	}
	if id, ok := d.ResponsibleFor("100"); !ok || id != "42" {
		t.Errorf("old mapping lost: %q, %v", id, ok)
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	d := NewFileDirectory(filepath.Join(t.TempDir(), "absent.json"), nil)
	if _, ok := d.ResponsibleFor("100"); ok {
		t.Error("expected empty directory")
	}
}
