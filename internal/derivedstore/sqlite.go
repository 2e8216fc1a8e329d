package derivedstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"chainindex/internal/codec"

	_ "modernc.org/sqlite"
)

// sqlStore persists one table per collection, each row a (key, doc) pair
// where doc is the codec-encoded JSON document, preserving any []byte /
// codec.HexBytes values handlers placed in decoded event args.
type sqlStore struct {
	db *sql.DB

	mu    sync.Mutex
	known map[string]struct{}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens (creating if necessary) the SQLite database at dsn for
// use as a Derived Store.
func OpenSQLite(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("derivedstore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, known: make(map[string]struct{})}, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) ensureTable(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("derivedstore: invalid collection name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[name]; ok {
		return nil
	}
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, doc TEXT NOT NULL)`, name))
	if err != nil {
		return fmt.Errorf("derivedstore: create table %s: %w", name, err)
	}
	s.known[name] = struct{}{}
	return nil
}

func (s *sqlStore) Collection(name string) Collection {
	return &sqlCollection{store: s, name: name}
}

func (s *sqlStore) DropAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.known))
	for n := range s.known {
		names = append(names, n)
	}
	s.mu.Unlock()

	for _, n := range names {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, n)); err != nil {
			return err
		}
	}
	return nil
}

type sqlCollection struct {
	store *sqlStore
	name  string
}

func (c *sqlCollection) Upsert(ctx context.Context, key string, doc Document) error {
	if err := c.store.ensureTable(c.name); err != nil {
		return err
	}
	payload, err := codec.Encode(map[string]interface{}(doc))
	if err != nil {
		return fmt.Errorf("derivedstore: encode doc %s/%s: %w", c.name, key, err)
	}
	_, err = c.store.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, doc) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET doc = excluded.doc`, c.name),
		key, string(payload))
	if err != nil {
		return fmt.Errorf("derivedstore: upsert %s/%s: %w", c.name, key, err)
	}
	return nil
}

func (c *sqlCollection) Get(ctx context.Context, key string) (Document, bool, error) {
	if err := c.store.ensureTable(c.name); err != nil {
		return nil, false, err
	}
	row := c.store.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE key = ?`, c.name), key)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (c *sqlCollection) Delete(ctx context.Context, key string) error {
	if err := c.store.ensureTable(c.name); err != nil {
		return err
	}
	_, err := c.store.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.name), key)
	return err
}

func (c *sqlCollection) All(ctx context.Context) ([]Document, error) {
	if err := c.store.ensureTable(c.name); err != nil {
		return nil, err
	}
	rows, err := c.store.db.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %s`, c.name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func decodeDocument(payload string) (Document, error) {
	v, err := codec.Decode([]byte(payload))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return Document{}, nil
	}
	return Document(m), nil
}
