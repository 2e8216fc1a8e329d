package derivedstore

import (
	"context"
	"testing"
)

func TestMemoryStoreUpsertIsolatesCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	col := s.Collection("balances")

	doc := Document{"balance": "100"}
	if err := col.Upsert(ctx, "k", doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Mutating the caller's map after Upsert must not affect the stored copy.
	doc["balance"] = "999"

	got, ok, err := col.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get reported false for a just-upserted document")
	}
	if got["balance"] != "100" {
		t.Errorf("stored balance = %v, want 100 (Upsert should copy, not alias)", got["balance"])
	}
}

func TestMemoryStoreDropAll(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	col := s.Collection("transfers")

	if err := col.Upsert(ctx, "k", Document{"v": "1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.DropAll(ctx); err != nil {
		t.Fatalf("DropAll: %v", err)
	}

	// DropAll replaces the store's collection set, so re-fetching the
	// collection by name returns a fresh, empty one.
	docs, err := s.Collection("transfers").All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("All returned %d documents after DropAll, want 0", len(docs))
	}
}
