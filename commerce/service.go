// Package commerce implements product and order management on top of the
// document store.
//
// Products and orders live in two collections of one database. Checkout and
// cancellation touch both collections one after the other; there is no
// cross-collection transaction, so a failure between the two writes leaves
// the stock adjusted without the matching order change. Such gaps are logged
// at error level and returned to the caller, never repaired silently.
package commerce

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/schema"
	"github.com/stevemurr/jsondb/store"
)

const (
	DatabaseName      = "express-commerce"
	ProductCollection = "product-collection"
	OrderCollection   = "order-collection"
)

// Order statuses.
const (
	StatusPlaced    = "Placed"
	StatusCancelled = "Cancelled"
)

// ProductSchema is the schema of the product collection.
var ProductSchema = schema.Schema{
	"id":          {Type: schema.TypeNumber, Primary: true, Required: true},
	"title":       {Type: schema.TypeString, Required: true},
	"description": {Type: schema.TypeString, Required: true},
	"price":       {Type: schema.TypeNumber, Required: true},
	"brand":       {Type: schema.TypeString, Required: true},
	"stock":       {Type: schema.TypeNumber, Required: true},
	"img":         {Type: schema.TypeString, Required: true},
}

// OrderSchema is the schema of the order collection.
var OrderSchema = schema.Schema{
	"id":               {Type: schema.TypeNumber, Primary: true, Required: true},
	"status":           {Type: schema.TypeString},
	"product_id":       {Type: schema.TypeNumber},
	"product_quantity": {Type: schema.TypeNumber},
}

// Service exposes the shop operations.
type Service struct {
	// mu serialises operations that read one collection and then write
	// based on what they read: id assignment, checkout and cancellation.
	mu  sync.Mutex
	db  *store.DB
	log zerolog.Logger
}

// New returns a Service on an already prepared database.
func New(db *store.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log.With().Str("component", "commerce").Logger()}
}

// Setup connects to the shop database, creating the database, both
// collections and their schemas when any of them is missing.
func Setup(st *store.Store, log zerolog.Logger) (*Service, error) {
	db, err := st.Connect(DatabaseName)
	if dberr.Is(err, dberr.DatabaseNotFound) {
		log.Info().Str("database", DatabaseName).Msg("database missing, creating it")
		db, err = st.CreateDatabase(DatabaseName)
	}
	if err != nil {
		return nil, err
	}
	for name, s := range map[string]schema.Schema{
		ProductCollection: ProductSchema,
		OrderCollection:   OrderSchema,
	} {
		if err := ensureCollection(db, name, s); err != nil {
			return nil, err
		}
	}
	return New(db, log), nil
}

func ensureCollection(db *store.DB, name string, s schema.Schema) error {
	_, err := db.Schema(name)
	switch {
	case err == nil:
		return nil
	case dberr.Is(err, dberr.CollectionNotFound):
		if err := db.CreateCollection(name); err != nil {
			return err
		}
	case !dberr.Is(err, dberr.SchemaNotDefined):
		return err
	}
	return db.SetSchema(name, s)
}

// DB returns the database the service operates on.
func (s *Service) DB() *store.DB {
	return s.db
}

// nextID returns one more than the largest numeric id in records, or 1.
func nextID(records []store.Record) int64 {
	var max float64
	for _, r := range records {
		if id, ok := store.AsNumber(r["id"]); ok && id > max {
			max = id
		}
	}
	return int64(max) + 1
}

// notFoundAs re-tags a missing record as a domain specific kind.
func notFoundAs(err error, kind dberr.Kind, op, subject string) error {
	if dberr.Is(err, dberr.RecordNotFound) {
		return dberr.Wrap(err, kind, op, subject)
	}
	return err
}
