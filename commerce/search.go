package commerce

import (
	"sort"
	"strings"

	"github.com/Jeffail/gabs"

	"github.com/stevemurr/jsondb/dberr"
	"github.com/stevemurr/jsondb/store"
)

// searchFields are the product paths matched by SearchProducts.
var searchFields = []string{"title", "description", "brand"}

// relevance counts how many search fields of product contain needle, which
// must already be lower case.
func relevance(product store.Record, needle string) int {
	c, err := gabs.Consume(map[string]interface{}(product))
	if err != nil {
		return 0
	}
	score := 0
	for _, field := range searchFields {
		text, ok := c.Path(field).Data().(string)
		if ok && strings.Contains(strings.ToLower(text), needle) {
			score++
		}
	}
	return score
}

// SearchProducts returns the products whose title, description or brand
// contains query, ignoring case. Products matching more fields come first;
// equally relevant products keep their storage order.
func (s *Service) SearchProducts(query string) ([]store.Record, error) {
	const op = "search products"
	// A blank query is rejected rather than matching every product.
	if strings.TrimSpace(query) == "" {
		return nil, dberr.Newf(dberr.InvalidQuery, op, "", "search string is empty")
	}
	products, err := s.db.ReadCollection(ProductCollection)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	type hit struct {
		product store.Record
		score   int
	}
	var hits []hit
	for _, p := range products {
		if score := relevance(p, needle); score > 0 {
			hits = append(hits, hit{p, score})
		}
	}
	if len(hits) == 0 {
		return nil, dberr.New(dberr.NoMatches, op, query)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	results := make([]store.Record, len(hits))
	for i, h := range hits {
		results[i] = h.product
	}
	return results, nil
}
