// Package sqlite implements registry.Store on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/eteran/stagegate/pkg/registry"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is a registry.Store backed by a single documents table keyed by
// (collection, key).
type Store struct {
	db *sql.DB
}

var _ registry.Store = (*Store)(nil)

// initSchema applies the embedded migrations in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("apply %s: %w", path, execError)
		}
		return nil
	})
}

// Open opens (creating if needed) the database at dsn and applies the
// schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Lookup(ctx context.Context, collection, key string) (registry.Document, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s/%s: %w", collection, key, err)
	}
	return registry.Document(doc), true, nil
}

// Put inserts or replaces a document.
func (s *Store) Put(ctx context.Context, collection, key string, doc registry.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, document) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET document = excluded.document, updated_at = CURRENT_TIMESTAMP`,
		collection, key, string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", collection, key, err)
	}
	return nil
}
