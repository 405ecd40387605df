// Package export copies the collections of a database to external systems.
package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/schema"
	"github.com/stevemurr/jsondb/store"
)

// Collection is a snapshot of one collection handed to a Sink.
type Collection struct {
	Database string
	Name     string
	// Schema is nil when the collection has no schema.
	Schema  schema.Schema
	Records []store.Record
}

// Key returns the identifier of the i-th record: its primary key value when
// the collection has a schema, the index otherwise.
func (c Collection) Key(i int) string {
	if c.Schema != nil {
		if pk := c.Schema.PrimaryKey(); pk != "" {
			if v, ok := c.Records[i][pk]; ok {
				if n, ok := store.AsNumber(v); ok {
					return strconv.FormatFloat(n, 'f', -1, 64)
				}
				return fmt.Sprint(v)
			}
		}
	}
	return strconv.Itoa(i)
}

// Sink receives collection snapshots. Each call replaces whatever the sink
// held for that collection before.
type Sink interface {
	WriteCollection(ctx context.Context, c Collection) error
	Close() error
}

// Summary reports what Run exported.
type Summary struct {
	Database    string         `json:"database"`
	Collections map[string]int `json:"collections"`
}

// Run writes every collection of db to sink.
func Run(ctx context.Context, db *store.DB, sink Sink, log zerolog.Logger) (*Summary, error) {
	names, err := db.ListCollections()
	if err != nil {
		return nil, err
	}
	sum := &Summary{Database: db.Name(), Collections: make(map[string]int, len(names))}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		c, err := snapshot(db, name)
		if err != nil {
			return sum, err
		}
		if err := sink.WriteCollection(ctx, c); err != nil {
			return sum, fmt.Errorf("export %s/%s: %w", c.Database, name, err)
		}
		sum.Collections[name] = len(c.Records)
		log.Debug().Str("collection", name).Int("records", len(c.Records)).Msg("exported collection")
	}
	return sum, nil
}

func snapshot(db *store.DB, name string) (Collection, error) {
	c := Collection{Database: db.Name(), Name: name}
	s, err := db.Schema(name)
	switch {
	case err == nil:
		c.Schema = s
	case !dberr.Is(err, dberr.SchemaNotDefined):
		return c, err
	}
	c.Records, err = db.ReadCollection(name)
	return c, err
}
