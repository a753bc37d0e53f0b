// Package stores holds the per-retailer extraction strategies.
//
// Every retailer lays out its product page differently and changes it without notice,
// so each one gets its own Adapter. The polling engine only talks to the Adapter
// interface and never branches on the store itself.
package stores

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/models"
)

var (
	ErrExtraction   = errors.New("failed to extract sizes")
	ErrUnknownStore = errors.New("no adapter registered for store")
)

// Page is the subset of the browser session an adapter may drive.
type Page interface {
	Content(ctx context.Context) (string, error)
	WaitFor(ctx context.Context, sel browser.Selector, timeout time.Duration) error
	Extract(ctx context.Context, sel browser.Selector) ([]browser.Element, error)
	Click(ctx context.Context, sel browser.Selector) error
}

// Adapter extracts product details from an already loaded product page.
type Adapter interface {
	Store() models.Store
	// Domains lists the hosts whose product pages this adapter understands.
	Domains() []string
	// ProductName never fails; it falls back to models.UnknownProductName.
	ProductName(ctx context.Context, page Page) string
	Price(ctx context.Context, page Page) (string, bool)
	// AvailableSizes returns the requested sizes that are listed and purchasable.
	AvailableSizes(ctx context.Context, page Page, requested models.SizeSet) (models.SizeSet, error)
	// ScreenshotRegion is the node that best shows size state; zero means full page.
	ScreenshotRegion() browser.Selector
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Store]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Store]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in retailer.
func DefaultRegistry(waitTimeout time.Duration) *Registry {
	return NewRegistry(
		NewZara(waitTimeout),
		NewHM(waitTimeout),
		NewUniqlo(waitTimeout),
	)
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Store()] = a
}

func (r *Registry) Lookup(store models.Store) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	return a, nil
}

// Stores returns the registered stores in a stable order.
func (r *Registry) Stores() []models.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Store, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MatchesURL reports whether rawURL is an https page on one of the adapter's domains.
func MatchesURL(a Adapter, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range a.Domains() {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
