package stores

import (
	"context"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/models"
)

var (
	zaraAddToCart = browser.CSS(`button[data-qa-action="add-to-cart"]`)
	zaraSizes     = browser.CSS(`[data-qa-action^="size-"]`)
	zaraSizePanel = browser.CSS(`.size-selector-list, [data-qa-qualifier="size-selector"]`)
)

// Zara hides the size list until "Add" is pressed; each size button carries its
// stock state in data-qa-action (size-in-stock, size-low-on-stock, size-out-of-stock).
type Zara struct {
	baseAdapter
}

func NewZara(waitTimeout time.Duration) *Zara {
	return &Zara{baseAdapter{
		store:          models.StoreZara,
		domains:        []string{"zara.com"},
		nameSelectors:  []string{`h1[data-qa-qualifier="product-detail-info-name"]`, "h1.product-detail-info__header-name", "h1"},
		priceSelectors: []string{`[data-qa-qualifier="price"]`, ".money-amount__main", ".price__amount"},
		waitTimeout:    waitTimeout,
	}}
}

func (z *Zara) AvailableSizes(ctx context.Context, page Page, requested models.SizeSet) (models.SizeSet, error) {
	// the list may already be open on some layouts, so a failed click is not fatal
	if err := page.WaitFor(ctx, zaraAddToCart, z.waitTimeout); err == nil {
		_ = page.Click(ctx, zaraAddToCart)
	}

	return collectSizes(ctx, page, zaraSizes, z.waitTimeout, requested, zaraLabel, zaraAvailable)
}

func (z *Zara) ScreenshotRegion() browser.Selector {
	return zaraSizePanel
}

func zaraLabel(el browser.Element) string {
	if label := el.Attr("data-size-label"); label != "" {
		return label
	}
	return firstLine(el.Text)
}

func zaraAvailable(el browser.Element) bool {
	if el.Disabled || hasSoldOutMarker(el.Text) {
		return false
	}
	action := el.Attr("data-qa-action")
	return action == "size-in-stock" || action == "size-low-on-stock"
}
