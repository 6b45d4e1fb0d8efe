package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSQLiteStorage_ReplaceAndList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStorage(filepath.Join(dir, "db", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.ReplaceInstances(ctx, sampleInstances()); err != nil {
		t.Fatal(err)
	}
	list, err := store.ListInstances(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(list))
	}
	if list[1].Embedding != nil {
		t.Errorf("instance without embedding came back with %v", list[1].Embedding)
	}
	if !reflect.DeepEqual(list[2].Segments, []string{"third", "part"}) {
		t.Errorf("segments = %v", list[2].Segments)
	}
	if !reflect.DeepEqual(list[0].Embedding, []float64{0.1, 0.2}) {
		t.Errorf("embedding = %v", list[0].Embedding)
	}

	n, err := store.CountInstances(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountInstances = %d, %v", n, err)
	}
	n, err = store.CountEmbedded(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountEmbedded = %d, %v", n, err)
	}

	got, err := store.GetInstance(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identifier != "c" || got.Position != 2 {
		t.Errorf("GetInstance(2) = %+v", got)
	}
	if _, err := store.GetInstance(ctx, 9); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("GetInstance(9) error = %v, want ErrOutOfRange", err)
	}

	// replacing drops rows that are no longer present
	if err := store.ReplaceInstances(ctx, sampleInstances()[:1]); err != nil {
		t.Fatal(err)
	}
	n, _ = store.CountInstances(ctx)
	if n != 1 {
		t.Errorf("after replace: %d instances, want 1", n)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float64{0, -1.5, 3.25e-9}
	out, err := decodeEmbedding(encodeEmbedding(in))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("decoded %v, want %v", out, in)
	}
	if encodeEmbedding(nil) != nil {
		t.Error("nil embedding should encode as nil")
	}
	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
