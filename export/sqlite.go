package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
)

// SQLiteSink writes collections into a single SQLite database.
//
// Tables:
//
//	documents(database, collection, key, data)  PRIMARY KEY (database, collection, key)
//	schemas(database, collection, schema)       PRIMARY KEY (database, collection)
//
// The caller must register a "sqlite3" driver, e.g. github.com/mattn/go-sqlite3.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS documents (
			database TEXT NOT NULL,
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (database, collection, key)
		)`,
		`CREATE TABLE IF NOT EXISTS schemas (
			database TEXT NOT NULL,
			collection TEXT NOT NULL,
			schema TEXT NOT NULL,
			PRIMARY KEY (database, collection)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for inspection.
func (s *SQLiteSink) DB() *sql.DB {
	return s.db
}

// WriteCollection replaces the collection's rows in one transaction.
func (s *SQLiteSink) WriteCollection(ctx context.Context, c Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM documents WHERE database = ? AND collection = ?",
		c.Database, c.Name,
	); err != nil {
		return err
	}
	for i, r := range c.Records {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (database, collection, key, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT(database, collection, key) DO UPDATE SET data = excluded.data`,
			c.Database, c.Name, c.Key(i), string(b),
		); err != nil {
			return err
		}
	}

	if c.Schema == nil {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM schemas WHERE database = ? AND collection = ?",
			c.Database, c.Name,
		)
	} else {
		var b []byte
		if b, err = json.Marshal(c.Schema); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schemas (database, collection, schema) VALUES (?, ?, ?)
			 ON CONFLICT(database, collection) DO UPDATE SET schema = excluded.schema`,
			c.Database, c.Name, string(b),
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}
