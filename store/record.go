package store

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/schema"
)

// deepCopy returns a deep copy of a record by round-tripping through JSON.
// The copy holds exactly what would be written to disk. A record that does
// not survive the round trip is an error, never an empty copy.
func deepCopy(src Record) (Record, error) {
	if src == nil {
		return nil, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var dst Record
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, fmt.Errorf("record encodes as %s", b)
	}
	return dst, nil
}

// sameKey compares primary key values the way JSON does: every numeric type
// is a number, so int 1 and float64 1 are the same key.
func sameKey(a, b any) bool {
	if fa, ok := AsNumber(a); ok {
		fb, ok := AsNumber(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// AsNumber converts any Go numeric value, including named numeric types, or
// a json.Number, to float64.
func AsNumber(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func indexOf(records []Record, pk string, key any) int {
	for i, r := range records {
		if v, ok := r[pk]; ok && sameKey(v, key) {
			return i
		}
	}
	return -1
}

func keyString(key any) string {
	return fmt.Sprint(key)
}

// CreateRecord validates record against the collection schema and appends it.
// The primary key value must not already be present.
func (db *DB) CreateRecord(collection string, record Record) error {
	const op = "create record"
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	s, err := db.loadSchema(op, collection)
	if err != nil {
		return err
	}
	if err := schema.ValidateRecord(s, record); err != nil {
		return err
	}
	records, err := db.loadCollection(op, collection)
	if err != nil {
		return err
	}
	pk := s.PrimaryKey()
	if indexOf(records, pk, record[pk]) >= 0 {
		return dberr.New(dberr.DuplicatePrimaryKey, op, keyString(record[pk]))
	}
	stored, err := deepCopy(record)
	if err != nil {
		return dberr.Wrap(err, dberr.InvalidRecordShape, op, keyString(record[pk]))
	}
	records = append(records, stored)
	if err := db.saveCollection(op, collection, records); err != nil {
		return err
	}
	db.store.log.Trace().Str("collection", collection).Interface("key", record[pk]).Msg("created record")
	return nil
}

// ReadRecord returns the record whose primary key equals key. A missing
// record is reported as dberr.RecordNotFound.
func (db *DB) ReadRecord(collection string, key any) (Record, error) {
	const op = "read record"
	if err := db.check(op); err != nil {
		return nil, err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return nil, err
	}
	db.store.mu.RLock()
	defer db.store.mu.RUnlock()

	s, err := db.loadSchema(op, collection)
	if err != nil {
		return nil, err
	}
	records, err := db.loadCollection(op, collection)
	if err != nil {
		return nil, err
	}
	i := indexOf(records, s.PrimaryKey(), key)
	if i < 0 {
		return nil, dberr.New(dberr.RecordNotFound, op, keyString(key))
	}
	return records[i], nil
}

// UpdateRecord applies patch to the record whose primary key equals key:
// fields present in patch overwrite the stored ones, all others are kept. The
// merged record must still satisfy the schema, otherwise nothing is written.
// The primary key itself cannot be patched.
func (db *DB) UpdateRecord(collection string, key any, patch Record) (Record, error) {
	const op = "update record"
	if err := db.check(op); err != nil {
		return nil, err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return nil, err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	s, err := db.loadSchema(op, collection)
	if err != nil {
		return nil, err
	}
	pk := s.PrimaryKey()
	if _, ok := patch[pk]; ok {
		return nil, dberr.New(dberr.PrimaryKeyImmutable, op, pk)
	}
	records, err := db.loadCollection(op, collection)
	if err != nil {
		return nil, err
	}
	i := indexOf(records, pk, key)
	if i < 0 {
		return nil, dberr.New(dberr.RecordNotFound, op, keyString(key))
	}

	merged := make(Record, len(records[i])+len(patch))
	for k, v := range records[i] {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	if err := schema.ValidateRecord(s, merged); err != nil {
		return nil, err
	}
	stored, err := deepCopy(merged)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.InvalidRecordShape, op, keyString(key))
	}
	records[i] = stored
	if err := db.saveCollection(op, collection, records); err != nil {
		return nil, err
	}
	db.store.log.Trace().Str("collection", collection).Interface("key", key).Msg("updated record")
	return deepCopy(stored)
}

// DeleteRecord removes the record whose primary key equals key.
func (db *DB) DeleteRecord(collection string, key any) error {
	const op = "delete record"
	if err := db.check(op); err != nil {
		return err
	}
	if err := checkCollectionName(op, collection); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	s, err := db.loadSchema(op, collection)
	if err != nil {
		return err
	}
	records, err := db.loadCollection(op, collection)
	if err != nil {
		return err
	}
	i := indexOf(records, s.PrimaryKey(), key)
	if i < 0 {
		return dberr.New(dberr.RecordNotFound, op, keyString(key))
	}
	records = append(records[:i], records[i+1:]...)
	if err := db.saveCollection(op, collection, records); err != nil {
		return err
	}
	db.store.log.Trace().Str("collection", collection).Interface("key", key).Msg("deleted record")
	return nil
}
