package store

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/stevemurr/jsondb/dberr"
)

// DB is a handle to one database. It replaces a "current database" pointer:
// every collection and record operation goes through the handle it was
// issued on. Deleting the database drops the handle, after which every call
// fails with dberr.NoDatabaseConnected. Other handles on the same database
// fail the same way once its directory is gone, whether it was deleted or
// renamed through another handle; they do not follow the rename.
type DB struct {
	store   *Store
	name    string
	dropped bool
}

// Name returns the database name. It follows renames made through this
// handle.
func (db *DB) Name() string {
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()
	return db.name
}

func (s *Store) databasePath(name string) string {
	return filepath.Join(s.root, name)
}

func (db *DB) dir() string {
	return db.store.databasePath(db.name)
}

func (db *DB) fs() afero.Fs {
	return db.store.fs
}

// check reports NoDatabaseConnected for a dropped handle or one whose
// directory no longer exists.
func (db *DB) check(op string) error {
	if db == nil {
		return dberr.New(dberr.NoDatabaseConnected, op, "")
	}
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()
	if db.dropped {
		return dberr.New(dberr.NoDatabaseConnected, op, db.name)
	}
	ok, err := afero.DirExists(db.fs(), db.dir())
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, db.name)
	}
	if !ok {
		return dberr.New(dberr.NoDatabaseConnected, op, db.name)
	}
	return nil
}

// ListCollections returns the sorted names of the collections in the
// database. Schema sidecars and temporary files are not listed.
func (db *DB) ListCollections() ([]string, error) {
	const op = "list collections"
	if err := db.check(op); err != nil {
		return nil, err
	}
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()
	entries, err := afero.ReadDir(db.fs(), db.dir())
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, op, db.name)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, collectionExt) {
			continue
		}
		if strings.HasSuffix(name, schemaSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, collectionExt))
	}
	sort.Strings(names)
	return names, nil
}

// Rename moves the database to newName. The handle follows the move.
func (db *DB) Rename(newName string) error {
	const op = "rename database"
	if err := db.check(op); err != nil {
		return err
	}
	if !IsValidName(newName) {
		return dberr.New(dberr.InvalidName, op, newName)
	}
	s := db.store
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.databaseExists(newName)
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, newName)
	}
	if exists {
		return dberr.New(dberr.DatabaseAlreadyExists, op, newName)
	}
	if err := db.fs().Rename(db.dir(), s.databasePath(newName)); err != nil {
		return dberr.Wrap(err, dberr.IO, op, db.name)
	}
	s.log.Debug().Str("database", db.name).Str("to", newName).Msg("renamed database")
	db.name = newName
	return nil
}

// Delete removes the database if it holds no files.
func (db *DB) Delete() error {
	const op = "delete database"
	if err := db.check(op); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()
	empty, err := afero.IsEmpty(db.fs(), db.dir())
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, db.name)
	}
	if !empty {
		return dberr.New(dberr.DatabaseNotEmpty, op, db.name)
	}
	if err := db.fs().Remove(db.dir()); err != nil {
		return dberr.Wrap(err, dberr.IO, op, db.name)
	}
	db.store.log.Debug().Str("database", db.name).Msg("deleted database")
	db.dropped = true
	return nil
}

// ForceDelete removes the database and everything in it.
func (db *DB) ForceDelete() error {
	const op = "force delete database"
	if err := db.check(op); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()
	if err := db.fs().RemoveAll(db.dir()); err != nil {
		return dberr.Wrap(err, dberr.IO, op, db.name)
	}
	db.store.log.Warn().Str("database", db.name).Msg("force deleted database")
	db.dropped = true
	return nil
}
