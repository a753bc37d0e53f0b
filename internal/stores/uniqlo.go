package stores

import (
	"context"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/models"
)

// Uniqlo renders its size picker from web components, two shadow roots deep:
// uq-product-detail -> uq-size-picker -> button.size-chip.
var (
	uniqloHosts      = []string{"uq-product-detail", "uq-size-picker"}
	uniqloSizeChips  = browser.InShadow("button.size-chip", uniqloHosts...)
	uniqloPickerRoot = browser.InShadow(".size-picker", uniqloHosts...)
)

type Uniqlo struct {
	baseAdapter
}

func NewUniqlo(waitTimeout time.Duration) *Uniqlo {
	return &Uniqlo{baseAdapter{
		store:          models.StoreUniqlo,
		domains:        []string{"uniqlo.com"},
		nameSelectors:  []string{"h1.product-name", `[data-test="product-name"]`, "h1"},
		priceSelectors: []string{".price-original", `[data-test="product-price"]`, ".fr-ec-price"},
		waitTimeout:    waitTimeout,
	}}
}

func (u *Uniqlo) AvailableSizes(ctx context.Context, page Page, requested models.SizeSet) (models.SizeSet, error) {
	return collectSizes(ctx, page, uniqloSizeChips, u.waitTimeout, requested, uniqloLabel, uniqloAvailable)
}

func (u *Uniqlo) ScreenshotRegion() browser.Selector {
	return uniqloPickerRoot
}

func uniqloLabel(el browser.Element) string {
	if label := el.Attr("data-size"); label != "" {
		return label
	}
	return firstLine(el.Text)
}

func uniqloAvailable(el browser.Element) bool {
	if el.Disabled || el.HasClass("size-chip--disabled") || el.HasClass("size-chip--soldout") {
		return false
	}
	return !hasSoldOutMarker(el.Text)
}
