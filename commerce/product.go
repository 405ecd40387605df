package commerce

import (
	"strconv"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/store"
)

// checkProductPolicy rejects negative prices and stock levels. Type errors
// are left to schema validation.
func checkProductPolicy(op string, fields store.Record) error {
	if v, ok := store.AsNumber(fields["price"]); ok && v < 0 {
		return dberr.Newf(dberr.InvalidPrice, op, "price", "%v is negative", v)
	}
	if v, ok := store.AsNumber(fields["stock"]); ok && v < 0 {
		return dberr.Newf(dberr.InvalidStock, op, "stock", "%v is negative", v)
	}
	return nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CreateProduct stores a new product and returns it. The id is assigned by
// the service; any id in fields is ignored.
func (s *Service) CreateProduct(fields store.Record) (store.Record, error) {
	const op = "create product"
	if err := checkProductPolicy(op, fields); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	products, err := s.db.ReadCollection(ProductCollection)
	if err != nil {
		return nil, err
	}
	id := nextID(products)

	product := make(store.Record, len(fields)+1)
	for k, v := range fields {
		product[k] = v
	}
	product["id"] = id
	if err := s.db.CreateRecord(ProductCollection, product); err != nil {
		return nil, err
	}
	s.log.Debug().Int64("product_id", id).Msg("created product")
	return s.db.ReadRecord(ProductCollection, id)
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(id int64) (store.Record, error) {
	p, err := s.db.ReadRecord(ProductCollection, id)
	return p, notFoundAs(err, dberr.ProductNotFound, "get product", idString(id))
}

// Products returns every product in storage order.
func (s *Service) Products() ([]store.Record, error) {
	return s.db.ReadCollection(ProductCollection)
}

// UpdateProduct patches a product and returns the result.
func (s *Service) UpdateProduct(id int64, patch store.Record) (store.Record, error) {
	const op = "update product"
	if err := checkProductPolicy(op, patch); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.db.UpdateRecord(ProductCollection, id, patch)
	return p, notFoundAs(err, dberr.ProductNotFound, op, idString(id))
}

// DeleteProduct removes a product. Orders referring to it are kept.
func (s *Service) DeleteProduct(id int64) error {
	err := s.db.DeleteRecord(ProductCollection, id)
	return notFoundAs(err, dberr.ProductNotFound, "delete product", idString(id))
}
