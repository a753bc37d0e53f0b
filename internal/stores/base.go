package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/parser"
)

var soldOutMarkers = []string{"OUT OF STOCK", "SOLD OUT"}

// baseAdapter carries the selectors shared by the simple light-DOM retailers.
type baseAdapter struct {
	store          models.Store
	domains        []string
	nameSelectors  []string
	priceSelectors []string
	waitTimeout    time.Duration
}

func (b *baseAdapter) Store() models.Store {
	return b.store
}

func (b *baseAdapter) Domains() []string {
	return b.domains
}

func (b *baseAdapter) ProductName(ctx context.Context, page Page) string {
	html, err := page.Content(ctx)
	if err != nil {
		return models.UnknownProductName
	}

	doc, err := parser.Parse(html)
	if err != nil {
		return models.UnknownProductName
	}

	if name, ok := parser.FirstText(doc, b.nameSelectors...); ok {
		return name
	}
	if name, ok := parser.MetaContent(doc, "og:title"); ok {
		return name
	}
	return models.UnknownProductName
}

func (b *baseAdapter) Price(ctx context.Context, page Page) (string, bool) {
	html, err := page.Content(ctx)
	if err != nil {
		return "", false
	}

	doc, err := parser.Parse(html)
	if err != nil {
		return "", false
	}

	text, ok := parser.FirstText(doc, b.priceSelectors...)
	if !ok {
		return "", false
	}
	return parser.ExtractPrice(text)
}

// collectSizes waits for sel, snapshots the matches and keeps requested labels that pass available.
// A label matched by several elements (an li wrapping its button) is available only if every one passes.
func collectSizes(ctx context.Context, page Page, sel browser.Selector, timeout time.Duration,
	requested models.SizeSet, label func(browser.Element) string, available func(browser.Element) bool) (models.SizeSet, error) {

	if err := page.WaitFor(ctx, sel, timeout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	elements, err := page.Extract(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var order []string
	status := make(map[string]bool, len(elements))
	for _, el := range elements {
		size := models.NormalizeSize(label(el))
		if size == "" {
			continue
		}
		ok, seen := status[size]
		if !seen {
			order = append(order, size)
			ok = true
		}
		status[size] = ok && available(el)
	}

	var inStock []string
	for _, size := range order {
		if status[size] {
			inStock = append(inStock, size)
		}
	}

	return requested.Intersect(inStock...), nil
}

// firstLine returns the first non-empty line, which is the size label on most pages
// ("M\nFew items left" -> "M").
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// hasSoldOutMarker reports whether text carries one of the textual unavailability markers.
func hasSoldOutMarker(text string) bool {
	upper := strings.ToUpper(text)
	for _, marker := range soldOutMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
