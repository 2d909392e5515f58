package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    k          TEXT PRIMARY KEY,
    v          TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// SQLiteStore persiste o KV em arquivo local (pure Go, sem CGo)
type SQLiteStore struct {
	db     *sql.DB
	prefix string
}

// OpenSQLite abre (ou cria) o banco em path. ":memory:" serve para testes.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kv.OpenSQLite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; também mantém o :memory: em uma conexão só
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv.OpenSQLite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, join(s.prefix, key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv.Get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		join(s.prefix, key), value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("kv.Set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Namespace(prefix string) Store {
	return &SQLiteStore{db: s.db, prefix: join(s.prefix, prefix)}
}

// Close fecha o banco (apenas no store raiz)
func (s *SQLiteStore) Close() error { return s.db.Close() }
