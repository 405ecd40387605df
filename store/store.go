// Package store implements a flat-file document store.
//
// A Store is rooted at a directory. Each database is a subdirectory, each
// collection a JSON file holding an array of records, and each collection
// schema a sibling file:
//
//	root/
//	  shop-data/
//	    products.json          # [{"id": 1, ...}, ...]
//	    products-config.json   # {"id": {"type": "number", "primary": true}, ...}
//
// Databases are reached through a *DB handle returned by CreateDatabase or
// Connect. Every operation re-reads the files it needs and every mutation
// rewrites the whole collection file, so callers always observe the latest
// on-disk state. A single mutex per Store serialises in-process writers; there
// is no cross-process locking.
package store

import (
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/stevemurr/jsondb/dberr"
)

// Record is a single document in a collection.
type Record map[string]any

// Store owns the root directory and every database beneath it.
type Store struct {
	mu   sync.RWMutex
	fs   afero.Fs
	root string
	log  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem the store operates on. Defaults to the OS
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Open returns a Store rooted at root. The root directory must already exist.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:   afero.NewOsFs(),
		root: root,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	ok, err := afero.DirExists(s.fs, root)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, "open store", root)
	}
	if !ok {
		return nil, dberr.New(dberr.RootNotFound, "open store", root)
	}
	s.log = s.log.With().Str("root", root).Logger()
	return s, nil
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// ListDatabases returns the sorted names of every database under the root.
func (s *Store) ListDatabases() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, "list databases", s.root)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && IsValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateDatabase creates a new, empty database and returns a handle to it.
func (s *Store) CreateDatabase(name string) (*DB, error) {
	const op = "create database"
	if !IsValidName(name) {
		return nil, dberr.New(dberr.InvalidName, op, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.databaseExists(name)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, op, name)
	}
	if exists {
		return nil, dberr.New(dberr.DatabaseAlreadyExists, op, name)
	}
	if err := s.fs.Mkdir(s.databasePath(name), 0o755); err != nil {
		return nil, dberr.Wrap(err, dberr.IO, op, name)
	}
	s.log.Debug().Str("database", name).Msg("created database")
	return &DB{store: s, name: name}, nil
}

// Connect returns a handle to an existing database.
func (s *Store) Connect(name string) (*DB, error) {
	const op = "connect"
	if !IsValidName(name) {
		return nil, dberr.New(dberr.InvalidName, op, name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	exists, err := s.databaseExists(name)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, op, name)
	}
	if !exists {
		return nil, dberr.New(dberr.DatabaseNotFound, op, name)
	}
	s.log.Debug().Str("database", name).Msg("connected to database")
	return &DB{store: s, name: name}, nil
}

func (s *Store) databaseExists(name string) (bool, error) {
	ok, err := afero.DirExists(s.fs, s.databasePath(name))
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return ok, nil
}
