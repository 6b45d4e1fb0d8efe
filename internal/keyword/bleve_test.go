package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/setsumei/internal/models"
)

func testInstances() []*models.Instance {
	return []*models.Instance{
		{Identifier: "FR-001", Segments: []string{"A bicycle frame made of carbon fibre", "with an integrated brake"}},
		{Identifier: "FR-002", Segments: []string{"Method for brewing coffee under pressure"}},
		{Identifier: "FR-003", Segments: []string{"Carbon capture in cement kilns"}},
	}
}

func TestBleveIndex_SearchText(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	ctx := context.Background()

	if err := idx.IndexAll(ctx, testInstances()); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}
	n, err := idx.DocCount()
	if err != nil || n != 3 {
		t.Fatalf("DocCount = %d, %v; want 3", n, err)
	}

	hits, err := idx.Search(ctx, "coffee", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 1 || hits[0].Identifier != "FR-002" {
		t.Fatalf("Search(coffee) = %+v", hits)
	}

	hits, err = idx.Search(ctx, "carbon", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("Search(carbon) returned %d hits, want 2", len(hits))
	}
}

func TestBleveIndex_SearchIdentifier(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	if err := idx.IndexAll(ctx, testInstances()); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "FR-003", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Position != 2 {
		t.Errorf("Search(FR-003) = %+v, want position 2 first", hits)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	if err := idx.IndexAll(ctx, testInstances()); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "cofee", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("exact search for a typo should not match, got %+v", hits)
	}
	hits, err = idx.Search(ctx, "cofee", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Position != 1 {
		t.Errorf("fuzzy search = %+v, want position 1", hits)
	}
}

func TestBleveIndex_ReindexDropsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.IndexAll(ctx, testInstances()); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexAll(ctx, testInstances()[:1]); err != nil {
		t.Fatal(err)
	}
	n, _ := idx.DocCount()
	if n != 1 {
		t.Errorf("DocCount after shrink = %d, want 1", n)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	hits, err := reopened.Search(ctx, "bicycle", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("Search after reopen = %+v", hits)
	}
}
