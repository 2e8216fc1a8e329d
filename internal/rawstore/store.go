// Package rawstore persists the durable Blocks and Receipts tables — the
// Raw Store — on top of a pure-Go SQLite engine so replay can fully
// re-derive the Derived Store without re-contacting the RPC endpoint.
package rawstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"chainindex/internal/chainmodel"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	_ "modernc.org/sqlite"
)

const (
	bytePrefix = "BYTE__"
	hexPrefix  = "HEXB__"
)

// Bytes is a raw byte payload that marshals to the `BYTE__<hex>` form
// internal/codec uses for untyped byte slices, so a block's opaque RPC
// payload round-trips bit-for-bit through the Raw Store.
type Bytes []byte

// MarshalJSON encodes b as a BYTE__-tagged hex string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(bytePrefix + hex.EncodeToString(b))
}

// UnmarshalJSON decodes a BYTE__-tagged hex string back into b.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, bytePrefix))
	if err != nil {
		return fmt.Errorf("rawstore: decode Bytes: %w", err)
	}
	*b = decoded
	return nil
}

// HexBytes is a hash-shaped value (block/tx hashes) that marshals to the
// `HEXB__<hex>` form internal/codec reserves for hash-like fields, kept
// distinct from Bytes so the Raw Store's on-disk payload carries the same
// two-tag encoding contract the Derived Store uses for handler documents.
type HexBytes []byte

// MarshalJSON encodes h as a HEXB__-tagged hex string.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexPrefix + hex.EncodeToString(h))
}

// UnmarshalJSON decodes a HEXB__-tagged hex string back into h.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, hexPrefix))
	if err != nil {
		return fmt.Errorf("rawstore: decode HexBytes: %w", err)
	}
	*h = decoded
	return nil
}

// blockRow is the on-disk shape of a block payload: hash fields and the
// opaque RPC payload go through Bytes/HexBytes so the stored JSON carries
// the BYTE__/HEXB__ tags; everything else keeps chainmodel's own types.
type blockRow struct {
	Number     uint64                      `json:"number"`
	Timestamp  uint64                      `json:"timestamp"`
	Hash       HexBytes                    `json:"hash"`
	ParentHash HexBytes                    `json:"parent_hash"`
	Txs        []chainmodel.RawTransaction `json:"txs"`
	Raw        Bytes                       `json:"raw"`
}

func blockToRow(b chainmodel.RawBlock) blockRow {
	return blockRow{
		Number:     b.Number,
		Timestamp:  b.Timestamp,
		Hash:       HexBytes(b.Hash.Bytes()),
		ParentHash: HexBytes(b.ParentHash.Bytes()),
		Txs:        b.Txs,
		Raw:        Bytes(b.Raw),
	}
}

func (row blockRow) toBlock() chainmodel.RawBlock {
	return chainmodel.RawBlock{
		Number:     row.Number,
		Timestamp:  row.Timestamp,
		Hash:       common.BytesToHash(row.Hash),
		ParentHash: common.BytesToHash(row.ParentHash),
		Txs:        row.Txs,
		Raw:        json.RawMessage(row.Raw),
	}
}

// receiptRow is the on-disk shape of a receipt payload; see blockRow.
type receiptRow struct {
	TxHash      HexBytes    `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Status      uint64      `json:"status"`
	Logs        []types.Log `json:"logs"`
	Raw         Bytes       `json:"raw"`
}

func receiptToRow(r chainmodel.RawReceipt) receiptRow {
	return receiptRow{
		TxHash:      HexBytes(r.TxHash.Bytes()),
		BlockNumber: r.BlockNumber,
		Status:      r.Status,
		Logs:        r.Logs,
		Raw:         Bytes(r.Raw),
	}
}

func (row receiptRow) toReceipt() chainmodel.RawReceipt {
	return chainmodel.RawReceipt{
		TxHash:      common.BytesToHash(row.TxHash),
		BlockNumber: row.BlockNumber,
		Status:      row.Status,
		Logs:        row.Logs,
		Raw:         json.RawMessage(row.Raw),
	}
}

// Store is the Raw Store: two tables, blocks (PK number) and receipts
// (PK tx_hash), with idempotent inserts.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and
// ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rawstore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matches a single scanner goroutine

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS blocks (
	number INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS receipts (
	tx_hash TEXT PRIMARY KEY,
	block_number INTEGER NOT NULL,
	status INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_block ON receipts(block_number);
`)
	if err != nil {
		return fmt.Errorf("rawstore: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertBlock idempotently persists a block; inserting an existing key is a
// no-op.
func (s *Store) InsertBlock(ctx context.Context, b chainmodel.RawBlock) error {
	payload, err := json.Marshal(blockToRow(b))
	if err != nil {
		return fmt.Errorf("rawstore: encode block %d: %w", b.Number, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blocks (number, timestamp, payload) VALUES (?, ?, ?)`,
		b.Number, b.Timestamp, string(payload))
	if err != nil {
		return fmt.Errorf("rawstore: insert block %d: %w", b.Number, err)
	}
	return nil
}

// InsertReceipt idempotently persists a receipt keyed by tx hash.
func (s *Store) InsertReceipt(ctx context.Context, r chainmodel.RawReceipt) error {
	payload, err := json.Marshal(receiptToRow(r))
	if err != nil {
		return fmt.Errorf("rawstore: encode receipt %s: %w", r.TxHash.Hex(), err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO receipts (tx_hash, block_number, status, payload) VALUES (?, ?, ?, ?)`,
		r.TxHash.Hex(), r.BlockNumber, r.Status, string(payload))
	if err != nil {
		return fmt.Errorf("rawstore: insert receipt %s: %w", r.TxHash.Hex(), err)
	}
	return nil
}

// GetBlock returns the block at number, or (nil, nil) if absent.
func (s *Store) GetBlock(ctx context.Context, number uint64) (*chainmodel.RawBlock, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM blocks WHERE number = ?`, number)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return decodeBlock(payload)
}

// GetReceipt returns the receipt for txHash, or (nil, nil) if absent.
func (s *Store) GetReceipt(ctx context.Context, txHash common.Hash) (*chainmodel.RawReceipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM receipts WHERE tx_hash = ?`, txHash.Hex())
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return decodeReceipt(payload)
}

// ReceiptsFor returns the receipts for the given tx hashes, in no
// particular order; hashes with no stored receipt are simply omitted.
func (s *Store) ReceiptsFor(ctx context.Context, hashes []common.Hash) ([]chainmodel.RawReceipt, error) {
	out := make([]chainmodel.RawReceipt, 0, len(hashes))
	for _, h := range hashes {
		r, err := s.GetReceipt(ctx, h)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// BlocksFrom returns up to limit blocks ordered by ascending number,
// starting after offset blocks (used by replay).
func (s *Store) BlocksFrom(ctx context.Context, offset, limit uint64) ([]chainmodel.RawBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM blocks ORDER BY number LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chainmodel.RawBlock
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		b, err := decodeBlock(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BlockCount returns the total number of stored blocks.
func (s *Store) BlockCount(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`)
	var n int64
	err := row.Scan(&n)
	return n, err
}

// DeleteBlocksFrom removes all blocks with number > n. Reserved for reorg
// recovery; not invoked in normal operation.
func (s *Store) DeleteBlocksFrom(ctx context.Context, n uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE number > ?`, n)
	return err
}

// DropAll truncates both tables; used by the Sync Supervisor's fresh mode
// to discard raw data before a full re-index.
func (s *Store) DropAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM receipts`)
	return err
}

func decodeBlock(payload string) (*chainmodel.RawBlock, error) {
	var row blockRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, err
	}
	b := row.toBlock()
	return &b, nil
}

func decodeReceipt(payload string) (*chainmodel.RawReceipt, error) {
	var row receiptRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, err
	}
	r := row.toReceipt()
	return &r, nil
}
