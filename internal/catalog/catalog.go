package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/size-stock-monitor/internal/models"
)

var (
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrDuplicateProduct = errors.New("product already tracked in this channel")
)

// Entry pairs a product with the scope it is tracked in.
type Entry struct {
	Scope   string
	Product models.Product
}

// Catalog maps a scope (channel) to its ordered list of tracked products.
// Empty scopes are pruned, so HasAny is true exactly when some scope holds a product.
type Catalog struct {
	mu     sync.RWMutex
	scopes map[string][]*models.Product
	order  []string
	now    func() time.Time
}

func New() *Catalog {
	return &Catalog{
		scopes: make(map[string][]*models.Product),
		now:    time.Now,
	}
}

// Add appends p to scope and returns the stored copy with its ID and AddedAt set.
func (c *Catalog) Add(scope string, p models.Product) (models.Product, error) {
	stored, _, err := c.AddIndexed(scope, p)
	return stored, err
}

// AddIndexed is Add that also reports the 1-based position the product was stored at.
func (c *Catalog) AddIndexed(scope string, p models.Product) (models.Product, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.scopes[scope] {
		if sameURL(existing.URL, p.URL) {
			return models.Product{}, 0, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.URL)
		}
	}

	stored := p.Clone()
	stored.ID = uuid.New().String()
	stored.Destination = scope
	stored.AddedAt = c.now()

	if _, ok := c.scopes[scope]; !ok {
		c.order = append(c.order, scope)
	}
	c.scopes[scope] = append(c.scopes[scope], &stored)

	return stored.Clone(), len(c.scopes[scope]), nil
}

// At returns the product at the 1-based index.
func (c *Catalog) At(scope string, index int) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	products := c.scopes[scope]
	if index < 1 || index > len(products) {
		return models.Product{}, fmt.Errorf("%w: %d (channel has %d products)", ErrIndexOutOfRange, index, len(products))
	}
	return products[index-1].Clone(), nil
}

// List returns a copy of the scope's products in insertion order.
func (c *Catalog) List(scope string) []models.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	products := c.scopes[scope]
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		out = append(out, p.Clone())
	}
	return out
}

// RemoveAt deletes the product at the 1-based index and returns it.
// Later products shift down by one position.
func (c *Catalog) RemoveAt(scope string, index int) (models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	products := c.scopes[scope]
	if index < 1 || index > len(products) {
		return models.Product{}, fmt.Errorf("%w: %d (channel has %d products)", ErrIndexOutOfRange, index, len(products))
	}

	removed := products[index-1]
	products = append(products[:index-1:index-1], products[index:]...)

	if len(products) == 0 {
		c.pruneLocked(scope)
	} else {
		c.scopes[scope] = products
	}

	return removed.Clone(), nil
}

func (c *Catalog) HasAny() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scopes) > 0
}

// Len returns the total number of tracked products across all scopes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, products := range c.scopes {
		n += len(products)
	}
	return n
}

// Scopes returns the non-empty scopes in the order they were first used.
func (c *Catalog) Scopes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Snapshot copies every (scope, product) pair in scope order, then insertion order.
func (c *Catalog) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []Entry
	for _, scope := range c.order {
		for _, p := range c.scopes[scope] {
			entries = append(entries, Entry{Scope: scope, Product: p.Clone()})
		}
	}
	return entries
}

// Update applies fn to the stored product with id. It reports false when the
// product was removed since it was read.
func (c *Catalog) Update(scope, id string, fn func(*models.Product)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.scopes[scope] {
		if p.ID == id {
			fn(p)
			return true
		}
	}
	return false
}

func (c *Catalog) pruneLocked(scope string) {
	delete(c.scopes, scope)
	for i, s := range c.order {
		if s == scope {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// sameURL compares scheme and host case-insensitively and the rest of the URL exactly,
// ignoring a trailing slash.
func sameURL(a, b string) bool {
	return canonicalURL(a) == canonicalURL(b)
}

func canonicalURL(raw string) string {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
