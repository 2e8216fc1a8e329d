package derivedstore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "derived.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	col := s.Collection("balances")

	doc := Document{"balance": "1000", "raw": []byte{0xde, 0xad}}
	if err := col.Upsert(ctx, "addr-1", doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := col.Get(ctx, "addr-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get reported false for a just-upserted document")
	}
	if got["balance"] != "1000" {
		t.Errorf("balance = %v, want 1000", got["balance"])
	}
	raw, ok := got["raw"].([]byte)
	if !ok || string(raw) != "\xde\xad" {
		t.Errorf("raw field did not survive the codec round-trip: %#v", got["raw"])
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)
	col := s.Collection("balances")

	_, ok, err := col.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get should report false for a key never upserted")
	}
}

func TestUpsertOverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	col := s.Collection("balances")

	if err := col.Upsert(ctx, "addr-1", Document{"balance": "100"}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := col.Upsert(ctx, "addr-1", Document{"balance": "200"}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, _, err := col.Get(ctx, "addr-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["balance"] != "200" {
		t.Errorf("balance = %v, want 200 after overwrite", got["balance"])
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	col := s.Collection("transfers")

	if err := col.Upsert(ctx, "k1", Document{"v": "1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := col.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ok, err := col.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("document should be gone after Delete")
	}
}

func TestAllReturnsEveryDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	col := s.Collection("pools")

	for _, k := range []string{"p1", "p2", "p3"} {
		if err := col.Upsert(ctx, k, Document{"name": k}); err != nil {
			t.Fatalf("Upsert(%s): %v", k, err)
		}
	}

	docs, err := col.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("All returned %d documents, want 3", len(docs))
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Collection("balances").Upsert(ctx, "k", Document{"v": "balances"}); err != nil {
		t.Fatalf("Upsert balances: %v", err)
	}
	if err := s.Collection("transfers").Upsert(ctx, "k", Document{"v": "transfers"}); err != nil {
		t.Fatalf("Upsert transfers: %v", err)
	}

	got, _, err := s.Collection("balances").Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["v"] != "balances" {
		t.Errorf("balances collection returned %v, want balances (collections must not share rows)", got["v"])
	}
}

func TestDropAllClearsKnownCollections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	col := s.Collection("balances")

	if err := col.Upsert(ctx, "k", Document{"v": "1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.DropAll(ctx); err != nil {
		t.Fatalf("DropAll: %v", err)
	}

	docs, err := col.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("All returned %d documents after DropAll, want 0", len(docs))
	}
}

func TestInvalidCollectionNameRejected(t *testing.T) {
	s := openTestStore(t)
	col := s.Collection("not a valid name")
	if err := col.Upsert(context.Background(), "k", Document{}); err == nil {
		t.Error("expected an error for a collection name that is not a valid SQL identifier")
	}
}
