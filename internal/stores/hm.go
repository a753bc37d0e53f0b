package stores

import (
	"context"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/models"
)

var (
	hmSizes       = browser.CSS(`[data-testid="size-selector"] li, [data-testid="size-selector"] button`)
	hmSizeSection = browser.CSS(`[data-testid="size-selector"]`)
)

// HM marks unavailable sizes with aria-disabled and an out-of-stock modifier class.
type HM struct {
	baseAdapter
}

func NewHM(waitTimeout time.Duration) *HM {
	return &HM{baseAdapter{
		store:          models.StoreHM,
		domains:        []string{"hm.com", "www2.hm.com"},
		nameSelectors:  []string{`[data-testid="product-name"]`, "h1.product-item-headline", "h1"},
		priceSelectors: []string{`[data-testid="price"]`, "#product-price", ".product-item-price"},
		waitTimeout:    waitTimeout,
	}}
}

func (h *HM) AvailableSizes(ctx context.Context, page Page, requested models.SizeSet) (models.SizeSet, error) {
	return collectSizes(ctx, page, hmSizes, h.waitTimeout, requested, hmLabel, hmAvailable)
}

func (h *HM) ScreenshotRegion() browser.Selector {
	return hmSizeSection
}

func hmLabel(el browser.Element) string {
	if label := el.Attr("data-size"); label != "" {
		return label
	}
	return firstLine(el.Text)
}

func hmAvailable(el browser.Element) bool {
	if el.Disabled || el.Attr("aria-disabled") == "true" {
		return false
	}
	if el.HasClass("out-of-stock") || el.HasClass("disabled") {
		return false
	}
	return !hasSoldOutMarker(el.Text) && !hasSoldOutMarker(el.Attr("aria-label"))
}
