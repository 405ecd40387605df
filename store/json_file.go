package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/schema"
)

const (
	collectionExt = ".json"
	schemaSuffix  = "-config.json"
)

func (db *DB) collectionPath(collection string) string {
	return filepath.Join(db.dir(), collection+collectionExt)
}

func (db *DB) schemaPath(collection string) string {
	return filepath.Join(db.dir(), collection+schemaSuffix)
}

func checkCollectionName(op, name string) error {
	if !IsValidName(name) {
		return dberr.New(dberr.InvalidName, op, name)
	}
	if IsReservedCollectionName(name) {
		return dberr.New(dberr.ReservedName, op, name)
	}
	return nil
}

func (db *DB) exists(path string) (bool, error) {
	ok, err := afero.Exists(db.fs(), path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return ok, nil
}

// saveFile replaces path with data. The bytes go to a temporary file in the
// same directory which is then renamed over path, so a crash never leaves a
// truncated collection behind.
func (db *DB) saveFile(path string, data []byte) error {
	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	f, err := db.fs().OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		db.fs().Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		db.fs().Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		db.fs().Remove(tmp)
		return err
	}
	if err := db.fs().Rename(tmp, path); err != nil {
		db.fs().Remove(tmp)
		return err
	}
	return nil
}

// loadCollection reads every record of a collection. An empty file is a
// valid collection with no records yet.
func (db *DB) loadCollection(op, collection string) ([]Record, error) {
	data, err := afero.ReadFile(db.fs(), db.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberr.New(dberr.CollectionNotFound, op, collection)
		}
		return nil, dberr.Wrap(err, dberr.IO, op, collection)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, dberr.Wrap(err, dberr.CorruptCollection, op, collection)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (db *DB) saveCollection(op, collection string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, collection)
	}
	if err := db.saveFile(db.collectionPath(collection), b); err != nil {
		return dberr.Wrap(err, dberr.IO, op, collection)
	}
	return nil
}

// loadSchema reads the schema sidecar of an existing collection.
func (db *DB) loadSchema(op, collection string) (schema.Schema, error) {
	ok, err := db.exists(db.collectionPath(collection))
	if err != nil {
		return nil, dberr.Wrap(err, dberr.IO, op, collection)
	}
	if !ok {
		return nil, dberr.New(dberr.CollectionNotFound, op, collection)
	}
	data, err := afero.ReadFile(db.fs(), db.schemaPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberr.New(dberr.SchemaNotDefined, op, collection)
		}
		return nil, dberr.Wrap(err, dberr.IO, op, collection)
	}
	s, err := schema.ParseJSON(data)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.CorruptCollection, op, collection)
	}
	return s, nil
}

// CreateCollection adds an empty collection without a schema.
func (db *DB) CreateCollection(name string) error {
	const op = "create collection"
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, name); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()
	ok, err := db.exists(db.collectionPath(name))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, name)
	}
	if ok {
		return dberr.New(dberr.CollectionAlreadyExists, op, name)
	}
	if err := db.saveFile(db.collectionPath(name), nil); err != nil {
		return dberr.Wrap(err, dberr.IO, op, name)
	}
	db.store.log.Debug().Str("database", db.name).Str("collection", name).Msg("created collection")
	return nil
}

// ReadCollection returns every record in the collection, in file order.
func (db *DB) ReadCollection(name string) ([]Record, error) {
	const op = "read collection"
	if err := db.check(op); err != nil {
		return nil, err
	}
	if err := checkCollectionName(op, name); err != nil {
		return nil, err
	}
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()
	return db.loadCollection(op, name)
}

// RenameCollection renames a collection together with its schema.
func (db *DB) RenameCollection(oldName, newName string) error {
	const op = "rename collection"
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, oldName); err != nil {
		return err
	}
	if err := checkCollectionName(op, newName); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	ok, err := db.exists(db.collectionPath(oldName))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, oldName)
	}
	if !ok {
		return dberr.New(dberr.CollectionNotFound, op, oldName)
	}
	ok, err = db.exists(db.collectionPath(newName))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, newName)
	}
	if ok {
		return dberr.New(dberr.CollectionAlreadyExists, op, newName)
	}

	if err := db.fs().Rename(db.collectionPath(oldName), db.collectionPath(newName)); err != nil {
		return dberr.Wrap(err, dberr.IO, op, oldName)
	}
	hasSchema, err := db.exists(db.schemaPath(oldName))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, oldName)
	}
	if hasSchema {
		if err := db.fs().Rename(db.schemaPath(oldName), db.schemaPath(newName)); err != nil {
			return dberr.Wrap(err, dberr.IO, op, oldName)
		}
	}
	db.store.log.Debug().Str("database", db.name).Str("collection", oldName).Str("to", newName).Msg("renamed collection")
	return nil
}

// DeleteCollection removes a collection that holds no records.
func (db *DB) DeleteCollection(name string) error {
	return db.deleteCollection("delete collection", name, false)
}

// ForceDeleteCollection removes a collection and its records.
func (db *DB) ForceDeleteCollection(name string) error {
	return db.deleteCollection("force delete collection", name, true)
}

func (db *DB) deleteCollection(op, name string, force bool) error {
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, name); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	if force {
		ok, err := db.exists(db.collectionPath(name))
		if err != nil {
			return dberr.Wrap(err, dberr.IO, op, name)
		}
		if !ok {
			return dberr.New(dberr.CollectionNotFound, op, name)
		}
	} else {
		records, err := db.loadCollection(op, name)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			return dberr.Newf(dberr.CollectionNotEmpty, op, name, "%d records", len(records))
		}
	}

	if err := db.fs().Remove(db.collectionPath(name)); err != nil {
		return dberr.Wrap(err, dberr.IO, op, name)
	}
	hasSchema, err := db.exists(db.schemaPath(name))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, name)
	}
	if hasSchema {
		if err := db.fs().Remove(db.schemaPath(name)); err != nil {
			return dberr.Wrap(err, dberr.IO, op, name)
		}
	}
	db.store.log.Debug().Str("database", db.name).Str("collection", name).Bool("force", force).Msg("deleted collection")
	return nil
}

// SetSchema validates s and stores it as the collection's schema, replacing
// any previous one. Existing records are not re-checked.
func (db *DB) SetSchema(collection string, s schema.Schema) error {
	const op = "set schema"
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return err
	}
	if err := schema.Validate(s); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()
	ok, err := db.exists(db.collectionPath(collection))
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, collection)
	}
	if !ok {
		return dberr.New(dberr.CollectionNotFound, op, collection)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return dberr.Wrap(err, dberr.IO, op, collection)
	}
	if err := db.saveFile(db.schemaPath(collection), b); err != nil {
		return dberr.Wrap(err, dberr.IO, op, collection)
	}
	db.store.log.Debug().Str("database", db.name).Str("collection", collection).Msg("set schema")
	return nil
}

// Schema returns the schema of a collection.
func (db *DB) Schema(collection string) (schema.Schema, error) {
	const op = "get schema"
	if err := db.check(op); err != nil {
		return nil, err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return nil, err
	}
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()
	return db.loadSchema(op, collection)
}
