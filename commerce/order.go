package commerce

import (
	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/store"
)

// Cancellation is the outcome of CancelOrder.
type Cancellation struct {
	Order store.Record `json:"order"`
	// StockRestored is false when the ordered product no longer exists.
	StockRestored bool `json:"stock_restored"`
}

// Checkout takes quantity units of a product out of stock and records a
// "Placed" order for them.
func (s *Service) Checkout(productID int64, quantity int) (store.Record, error) {
	const op = "checkout"
	if quantity <= 0 {
		return nil, dberr.Newf(dberr.InvalidQuantity, op, "quantity", "%d is not positive", quantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	product, err := s.db.ReadRecord(ProductCollection, productID)
	if err != nil {
		return nil, notFoundAs(err, dberr.ProductNotFound, op, idString(productID))
	}
	stock, _ := store.AsNumber(product["stock"])
	if float64(quantity) > stock {
		return nil, dberr.Newf(dberr.InsufficientStock, op, idString(productID), "requested %d, %v in stock", quantity, stock)
	}

	if _, err := s.db.UpdateRecord(ProductCollection, productID, store.Record{"stock": stock - float64(quantity)}); err != nil {
		return nil, err
	}

	order, err := s.placeOrder(productID, quantity)
	if err != nil {
		s.log.Error().Err(err).
			Int64("product_id", productID).
			Int("quantity", quantity).
			Msg("stock was decremented but the order was not recorded")
		return nil, err
	}
	s.log.Debug().Interface("order_id", order["id"]).Int64("product_id", productID).Msg("order placed")
	return order, nil
}

func (s *Service) placeOrder(productID int64, quantity int) (store.Record, error) {
	orders, err := s.db.ReadCollection(OrderCollection)
	if err != nil {
		return nil, err
	}
	id := nextID(orders)
	order := store.Record{
		"id":               id,
		"status":           StatusPlaced,
		"product_id":       productID,
		"product_quantity": quantity,
	}
	if err := s.db.CreateRecord(OrderCollection, order); err != nil {
		return nil, err
	}
	return s.db.ReadRecord(OrderCollection, id)
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(id int64) (store.Record, error) {
	o, err := s.db.ReadRecord(OrderCollection, id)
	return o, notFoundAs(err, dberr.OrderNotFound, "get order", idString(id))
}

// Orders returns every order in storage order.
func (s *Service) Orders() ([]store.Record, error) {
	return s.db.ReadCollection(OrderCollection)
}

// CancelOrder marks an order cancelled and puts its quantity back in stock.
// Restocking is best effort: if the product has been deleted since the order
// was placed, the cancellation still succeeds.
func (s *Service) CancelOrder(orderID int64) (*Cancellation, error) {
	const op = "cancel order"
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.db.ReadRecord(OrderCollection, orderID)
	if err != nil {
		return nil, notFoundAs(err, dberr.OrderNotFound, op, idString(orderID))
	}
	if order["status"] == StatusCancelled {
		return nil, dberr.New(dberr.OrderAlreadyCancelled, op, idString(orderID))
	}

	updated, err := s.db.UpdateRecord(OrderCollection, orderID, store.Record{"status": StatusCancelled})
	if err != nil {
		return nil, err
	}
	c := &Cancellation{Order: updated}

	productID, hasProduct := order["product_id"]
	quantity, _ := store.AsNumber(order["product_quantity"])
	if !hasProduct {
		s.log.Warn().Int64("order_id", orderID).Msg("cancelled order has no product, stock not restored")
		return c, nil
	}

	product, err := s.db.ReadRecord(ProductCollection, productID)
	if dberr.Is(err, dberr.RecordNotFound) {
		s.log.Warn().Int64("order_id", orderID).Interface("product_id", productID).Msg("product no longer exists, stock not restored")
		return c, nil
	}
	if err == nil {
		stock, _ := store.AsNumber(product["stock"])
		_, err = s.db.UpdateRecord(ProductCollection, productID, store.Record{"stock": stock + quantity})
	}
	if err != nil {
		s.log.Error().Err(err).
			Int64("order_id", orderID).
			Interface("product_id", productID).
			Msg("order was cancelled but stock was not restored")
		return nil, err
	}
	c.StockRestored = true
	s.log.Debug().Int64("order_id", orderID).Msg("order cancelled")
	return c, nil
}
