// Package derivedstore defines the opaque, handler-owned document store —
// the Derived Store. The core only ever opens collections and hands them
// to handlers; schema is entirely handler-defined.
package derivedstore

import "context"

// Document is a handler-defined, arbitrarily-shaped record. Values may
// include raw []byte or codec.HexBytes, which round-trip through the
// BYTE__/HEXB__ encoding when persisted.
type Document map[string]interface{}

// Collection is one named bucket of Documents, keyed by a handler-chosen
// string (for a token-transfer handler this is typically
// `<tx_hash>-<log_index>`, so re-dispatch during replay stays idempotent).
type Collection interface {
	Upsert(ctx context.Context, key string, doc Document) error
	Get(ctx context.Context, key string) (Document, bool, error)
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) ([]Document, error)
}

// Store hands out Collections by name and supports the Sync Supervisor's
// admin reset hooks (drop_derived).
type Store interface {
	Collection(name string) Collection
	DropAll(ctx context.Context) error
	Close() error
}
