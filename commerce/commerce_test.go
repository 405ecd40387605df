package commerce_test

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stevemurr/jsondb/commerce"
	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/store"
)

func expectKind(t *testing.T, err error, want dberr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", want)
	}
	if got := dberr.KindOf(err); got != want {
		t.Fatalf("expected %v, got %v (%v)", want, got, err)
	}
}

func newService(t *testing.T) *commerce.Service {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := commerce.Setup(st, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func product(title string, stock float64) store.Record {
	return store.Record{
		"title":       title,
		"description": "a product",
		"price":       9.99,
		"brand":       "acme",
		"stock":       stock,
		"img":         "https://example.com/img.png",
	}
}

func number(t *testing.T, r store.Record, field string) float64 {
	t.Helper()
	n, ok := store.AsNumber(r[field])
	if !ok {
		t.Fatalf("field %q is not a number: %#v", field, r[field])
	}
	return n
}

func TestSetupIsIdempotent(t *testing.T) {
	st, err := store.New("memory", "/data")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := commerce.Setup(st, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateProduct(product("lamp", 3)); err != nil {
		t.Fatal(err)
	}

	svc, err = commerce.Setup(st, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	products, err := svc.Products()
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Fatalf("expected existing product to survive setup, got %d", len(products))
	}
	names, err := svc.DB().ListCollections()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != commerce.OrderCollection || names[1] != commerce.ProductCollection {
		t.Fatalf("unexpected collections %v", names)
	}
}

func TestCreateProductAssignsIDs(t *testing.T) {
	svc := newService(t)

	in := product("lamp", 3)
	in["id"] = 99
	p, err := svc.CreateProduct(in)
	if err != nil {
		t.Fatal(err)
	}
	if id := number(t, p, "id"); id != 1 {
		t.Fatalf("expected id 1, got %v", id)
	}
	if _, ok := in["id"].(int); !ok {
		t.Fatal("caller's record was modified")
	}

	p, err = svc.CreateProduct(product("chair", 1))
	if err != nil {
		t.Fatal(err)
	}
	if id := number(t, p, "id"); id != 2 {
		t.Fatalf("expected id 2, got %v", id)
	}

	// ids keep growing past deleted products
	if err := svc.DeleteProduct(1); err != nil {
		t.Fatal(err)
	}
	p, err = svc.CreateProduct(product("desk", 1))
	if err != nil {
		t.Fatal(err)
	}
	if id := number(t, p, "id"); id != 3 {
		t.Fatalf("expected id 3, got %v", id)
	}
}

func TestProductPolicy(t *testing.T) {
	svc := newService(t)

	bad := product("lamp", 3)
	bad["price"] = -1
	_, err := svc.CreateProduct(bad)
	expectKind(t, err, dberr.InvalidPrice)

	bad = product("lamp", -3)
	_, err = svc.CreateProduct(bad)
	expectKind(t, err, dberr.InvalidStock)

	bad = product("lamp", 3)
	bad["price"] = math.NaN()
	_, err = svc.CreateProduct(bad)
	expectKind(t, err, dberr.TypeMismatch)

	missing := product("lamp", 3)
	delete(missing, "img")
	_, err = svc.CreateProduct(missing)
	expectKind(t, err, dberr.MissingRequiredField)

	products, err := svc.Products()
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 0 {
		t.Fatalf("rejected products were stored: %v", products)
	}
}

func TestProductCRUD(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 3)); err != nil {
		t.Fatal(err)
	}

	p, err := svc.GetProduct(1)
	if err != nil {
		t.Fatal(err)
	}
	if p["title"] != "lamp" {
		t.Fatalf("unexpected product %v", p)
	}

	p, err = svc.UpdateProduct(1, store.Record{"price": 12.5})
	if err != nil {
		t.Fatal(err)
	}
	if number(t, p, "price") != 12.5 || p["title"] != "lamp" {
		t.Fatalf("patch not merged: %v", p)
	}

	_, err = svc.UpdateProduct(1, store.Record{"stock": -1})
	expectKind(t, err, dberr.InvalidStock)
	_, err = svc.UpdateProduct(1, store.Record{"stock": math.Inf(1)})
	expectKind(t, err, dberr.TypeMismatch)
	if p, _ := svc.GetProduct(1); number(t, p, "stock") != 3 {
		t.Fatalf("rejected update changed the product: %v", p)
	}
	_, err = svc.UpdateProduct(1, store.Record{"id": 5})
	expectKind(t, err, dberr.PrimaryKeyImmutable)
	_, err = svc.UpdateProduct(42, store.Record{"price": 1})
	expectKind(t, err, dberr.ProductNotFound)

	if err := svc.DeleteProduct(1); err != nil {
		t.Fatal(err)
	}
	_, err = svc.GetProduct(1)
	expectKind(t, err, dberr.ProductNotFound)
	expectKind(t, svc.DeleteProduct(1), dberr.ProductNotFound)
}

func TestCheckout(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 10)); err != nil {
		t.Fatal(err)
	}

	order, err := svc.Checkout(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if number(t, order, "id") != 1 {
		t.Fatalf("expected first order id 1, got %v", order["id"])
	}
	if order["status"] != commerce.StatusPlaced {
		t.Fatalf("expected status Placed, got %v", order["status"])
	}
	if number(t, order, "product_id") != 1 || number(t, order, "product_quantity") != 4 {
		t.Fatalf("unexpected order %v", order)
	}
	p, err := svc.GetProduct(1)
	if err != nil {
		t.Fatal(err)
	}
	if stock := number(t, p, "stock"); stock != 6 {
		t.Fatalf("expected stock 6, got %v", stock)
	}

	order, err = svc.Checkout(1, 6)
	if err != nil {
		t.Fatal(err)
	}
	if number(t, order, "id") != 2 {
		t.Fatalf("expected order id 2, got %v", order["id"])
	}
	p, _ = svc.GetProduct(1)
	if stock := number(t, p, "stock"); stock != 0 {
		t.Fatalf("expected stock 0, got %v", stock)
	}
}

func TestCheckoutFailures(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 5)); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Checkout(1, 10)
	expectKind(t, err, dberr.InsufficientStock)
	_, err = svc.Checkout(1, 0)
	expectKind(t, err, dberr.InvalidQuantity)
	_, err = svc.Checkout(1, -2)
	expectKind(t, err, dberr.InvalidQuantity)
	_, err = svc.Checkout(9, 1)
	expectKind(t, err, dberr.ProductNotFound)

	p, err := svc.GetProduct(1)
	if err != nil {
		t.Fatal(err)
	}
	if stock := number(t, p, "stock"); stock != 5 {
		t.Fatalf("stock changed after failed checkouts: %v", stock)
	}
	orders, err := svc.Orders()
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Fatalf("failed checkouts created orders: %v", orders)
	}
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 5)); err != nil {
		t.Fatal(err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(1, 1)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !dberr.Is(err, dberr.InsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 {
		t.Fatalf("expected 5 successful checkouts, got %d", ok)
	}
	orders, err := svc.Orders()
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(orders))
	}
}

func TestCancelOrder(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 6)); err != nil {
		t.Fatal(err)
	}
	order := store.Record{"id": 7, "status": commerce.StatusPlaced, "product_id": 1, "product_quantity": 4}
	if err := svc.DB().CreateRecord(commerce.OrderCollection, order); err != nil {
		t.Fatal(err)
	}

	c, err := svc.CancelOrder(7)
	if err != nil {
		t.Fatal(err)
	}
	if !c.StockRestored {
		t.Fatal("expected stock to be restored")
	}
	if c.Order["status"] != commerce.StatusCancelled {
		t.Fatalf("expected Cancelled, got %v", c.Order["status"])
	}
	p, _ := svc.GetProduct(1)
	if stock := number(t, p, "stock"); stock != 10 {
		t.Fatalf("expected stock 10, got %v", stock)
	}

	_, err = svc.CancelOrder(7)
	expectKind(t, err, dberr.OrderAlreadyCancelled)
	p, _ = svc.GetProduct(1)
	if stock := number(t, p, "stock"); stock != 10 {
		t.Fatalf("second cancel changed stock: %v", stock)
	}

	_, err = svc.CancelOrder(8)
	expectKind(t, err, dberr.OrderNotFound)

	// next checkout continues after the highest order id
	placed, err := svc.Checkout(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if number(t, placed, "id") != 8 {
		t.Fatalf("expected order id 8, got %v", placed["id"])
	}
}

func TestCancelOrderProductGone(t *testing.T) {
	svc := newService(t)
	if _, err := svc.CreateProduct(product("lamp", 6)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Checkout(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteProduct(1); err != nil {
		t.Fatal(err)
	}

	c, err := svc.CancelOrder(1)
	if err != nil {
		t.Fatal(err)
	}
	if c.StockRestored {
		t.Fatal("stock cannot be restored for a deleted product")
	}
	o, err := svc.GetOrder(1)
	if err != nil {
		t.Fatal(err)
	}
	if o["status"] != commerce.StatusCancelled {
		t.Fatalf("expected Cancelled, got %v", o["status"])
	}
}

func TestSearchProducts(t *testing.T) {
	svc := newService(t)
	one := product("Desk lamp", 1)
	one["description"] = "bright"
	one["brand"] = "Lumen"
	two := product("Chair", 1)
	two["description"] = "goes well with a LAMP"
	two["brand"] = "Lampworks"
	three := product("Rug", 1)
	three["description"] = "soft"
	for _, p := range []store.Record{one, two, three} {
		if _, err := svc.CreateProduct(p); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := svc.SearchProducts("lamp")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0]["title"] != "Chair" || hits[1]["title"] != "Desk lamp" {
		t.Fatalf("unexpected order: %v, %v", hits[0]["title"], hits[1]["title"])
	}

	_, err = svc.SearchProducts("")
	expectKind(t, err, dberr.InvalidQuery)
	_, err = svc.SearchProducts("sofa")
	expectKind(t, err, dberr.NoMatches)
}

func TestSearchKeepsStorageOrderForTies(t *testing.T) {
	svc := newService(t)
	for _, title := range []string{"red mug", "blue mug", "green mug"} {
		if _, err := svc.CreateProduct(product(title, 1)); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := svc.SearchProducts("MUG")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"red mug", "blue mug", "green mug"} {
		if hits[i]["title"] != want {
			t.Fatalf("hit %d: expected %q, got %v", i, want, hits[i]["title"])
		}
	}
}

func TestRespond(t *testing.T) {
	svc := newService(t)

	p, err := svc.CreateProduct(product("lamp", 1))
	r := commerce.Respond(p, err, commerce.StatusCreated)
	if r.Status != 201 || !r.Success() {
		t.Fatalf("unexpected response %+v", r)
	}

	_, err = svc.GetProduct(5)
	r = commerce.Respond(nil, err, commerce.StatusRead)
	if r.Status != 404 || r.Success() {
		t.Fatalf("unexpected response %+v", r)
	}
	if _, ok := r.Message.(string); !ok {
		t.Fatalf("expected error message string, got %T", r.Message)
	}

	_, err = svc.Checkout(1, 5)
	r = commerce.Respond(nil, err, commerce.StatusCreated)
	if r.Status != dberr.StatusInsufficient {
		t.Fatalf("expected 452, got %d", r.Status)
	}

	c, err := svc.CancelOrder(1)
	expectKind(t, err, dberr.OrderNotFound)
	r = commerce.Respond(c, err, commerce.StatusChanged)
	if r.Status != 404 {
		t.Fatalf("expected 404, got %d", r.Status)
	}

	b, err := json.Marshal(commerce.Respond("ok", nil, commerce.StatusChanged))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"status":202,"message":"ok"}` {
		t.Fatalf("unexpected encoding %s", b)
	}
}
