package rawstore

import (
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"chainindex/internal/chainmodel"

	"github.com/ethereum/go-ethereum/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBlock(n uint64) chainmodel.RawBlock {
	return chainmodel.RawBlock{
		Number:     n,
		Timestamp:  1700000000 + n,
		Hash:       common.BigToHash(new(big.Int).SetUint64(n)),
		ParentHash: common.BigToHash(new(big.Int).SetUint64(n)),
	}
}

func TestInsertAndGetBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := sampleBlock(100)
	if err := s.InsertBlock(ctx, b); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	got, err := s.GetBlock(ctx, 100)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got == nil {
		t.Fatal("GetBlock returned nil for a just-inserted block")
	}
	if got.Number != b.Number || got.Timestamp != b.Timestamp {
		t.Errorf("GetBlock = %+v, want %+v", got, b)
	}
	if got.Hash != b.Hash || got.ParentHash != b.ParentHash {
		t.Errorf("GetBlock hash round-trip = {%s, %s}, want {%s, %s}", got.Hash, got.ParentHash, b.Hash, b.ParentHash)
	}
}

func TestBlockRowRoundTripsThroughBYTEAndHEXBTags(t *testing.T) {
	b := chainmodel.RawBlock{
		Number:     42,
		Timestamp:  1700000042,
		Hash:       common.HexToHash("0xaa"),
		ParentHash: common.HexToHash("0xbb"),
		Raw:        []byte(`{"result":"ok"}`),
	}
	row := blockToRow(b)

	payload, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal(blockRow): %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		t.Fatalf("Unmarshal into generic map: %v", err)
	}
	if hash, _ := generic["hash"].(string); !strings.HasPrefix(hash, hexPrefix) {
		t.Errorf("encoded hash field = %q, want %s prefix", hash, hexPrefix)
	}
	if raw, _ := generic["raw"].(string); !strings.HasPrefix(raw, bytePrefix) {
		t.Errorf("encoded raw field = %q, want %s prefix", raw, bytePrefix)
	}

	var decoded blockRow
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal(blockRow): %v", err)
	}
	got := decoded.toBlock()
	if got.Hash != b.Hash || got.ParentHash != b.ParentHash || string(got.Raw) != string(b.Raw) {
		t.Errorf("round-tripped block = %+v, want %+v", got, b)
	}
}

func TestGetBlockMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetBlock(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got != nil {
		t.Errorf("GetBlock for an absent block = %+v, want nil", got)
	}
}

func TestInsertBlockIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := sampleBlock(7)
	if err := s.InsertBlock(ctx, b); err != nil {
		t.Fatalf("first InsertBlock: %v", err)
	}
	if err := s.InsertBlock(ctx, b); err != nil {
		t.Fatalf("second InsertBlock (should be a no-op): %v", err)
	}

	count, err := s.BlockCount(ctx)
	if err != nil {
		t.Fatalf("BlockCount: %v", err)
	}
	if count != 1 {
		t.Errorf("BlockCount = %d, want 1 after inserting the same block twice", count)
	}
}

func TestInsertReceiptAndReceiptsFor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hash := common.HexToHash("0x01")
	r := chainmodel.RawReceipt{TxHash: hash, BlockNumber: 5, Status: 1}
	if err := s.InsertReceipt(ctx, r); err != nil {
		t.Fatalf("InsertReceipt: %v", err)
	}

	got, err := s.GetReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got == nil || got.Status != 1 {
		t.Fatalf("GetReceipt = %+v, want status 1", got)
	}

	all, err := s.ReceiptsFor(ctx, []common.Hash{hash, common.HexToHash("0x02")})
	if err != nil {
		t.Fatalf("ReceiptsFor: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ReceiptsFor returned %d receipts, want 1 (missing hash should be omitted)", len(all))
	}
}

func TestBlocksFromOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, n := range []uint64{3, 1, 2} {
		if err := s.InsertBlock(ctx, sampleBlock(n)); err != nil {
			t.Fatalf("InsertBlock(%d): %v", n, err)
		}
	}

	blocks, err := s.BlocksFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("BlocksFrom: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("BlocksFrom returned %d blocks, want 3", len(blocks))
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Number < blocks[i-1].Number {
			t.Fatalf("BlocksFrom is not ascending: %v", blocks)
		}
	}
}

func TestDropAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertBlock(ctx, sampleBlock(1)); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if err := s.InsertReceipt(ctx, chainmodel.RawReceipt{TxHash: common.HexToHash("0x01"), BlockNumber: 1}); err != nil {
		t.Fatalf("InsertReceipt: %v", err)
	}

	if err := s.DropAll(ctx); err != nil {
		t.Fatalf("DropAll: %v", err)
	}

	count, err := s.BlockCount(ctx)
	if err != nil {
		t.Fatalf("BlockCount: %v", err)
	}
	if count != 0 {
		t.Errorf("BlockCount after DropAll = %d, want 0", count)
	}
}
