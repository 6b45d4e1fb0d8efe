package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFootprint(t *testing.T) {
	dir := t.TempDir()

	db := filepath.Join(dir, "instances.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	index := filepath.Join(dir, "bleve")
	if err := os.MkdirAll(filepath.Join(index, "store"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "index_meta.json"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "store", "seg"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	usage, total, err := Footprint(db, "", filepath.Join(dir, "missing"), index)
	if err != nil {
		t.Fatal(err)
	}
	if total != 8 {
		t.Errorf("total = %d, want 8", total)
	}
	if len(usage) != 2 {
		t.Fatalf("got %d entries, want 2", len(usage))
	}
	if usage[0].Path != db || usage[0].Bytes != 5 {
		t.Errorf("db usage = %+v", usage[0])
	}
	if usage[1].Bytes != 3 {
		t.Errorf("index usage = %+v, want 3 bytes", usage[1])
	}
}
