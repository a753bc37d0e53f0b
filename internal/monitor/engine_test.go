package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/notify"
	"github.com/maltedev/size-stock-monitor/internal/ratelimit"
	"github.com/maltedev/size-stock-monitor/internal/stores"
)

type fakeSession struct {
	dir string

	mu          sync.Mutex
	openErr     error
	navErr      error
	opens       int
	closes      int
	navigations []string
	screenshots []string
}

func (f *fakeSession) EnsureOpen(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opens++
	return nil
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	return f.navErr
}

func (f *fakeSession) CaptureScreenshot(ctx context.Context, region browser.Selector) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := filepath.Join(f.dir, fmt.Sprintf("stock_%d.jpg", len(f.screenshots)))
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		return ""
	}
	f.screenshots = append(f.screenshots, path)
	return path
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) Content(ctx context.Context) (string, error) { return "", nil }
func (f *fakeSession) WaitFor(ctx context.Context, sel browser.Selector, timeout time.Duration) error {
	return nil
}
func (f *fakeSession) Extract(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return nil, nil
}
func (f *fakeSession) Click(ctx context.Context, sel browser.Selector) error { return nil }

func (f *fakeSession) counts() (opens, closes, screenshots int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, len(f.screenshots)
}

// fakeAdapter reports a fixed set of in-stock sizes for every page.
type fakeAdapter struct {
	mu      sync.Mutex
	inStock []string
	name    string
	err     error
	panics  bool
}

func (a *fakeAdapter) Store() models.Store { return models.StoreZara }
func (a *fakeAdapter) Domains() []string   { return []string{"zara.com"} }
func (a *fakeAdapter) ProductName(ctx context.Context, page stores.Page) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.name != "" {
		return a.name
	}
	return "Wool Coat"
}
func (a *fakeAdapter) Price(ctx context.Context, page stores.Page) (string, bool) {
	return "129,00 EUR", true
}
func (a *fakeAdapter) AvailableSizes(ctx context.Context, page stores.Page, requested models.SizeSet) (models.SizeSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panics {
		panic("selector exploded")
	}
	if a.err != nil {
		return nil, a.err
	}
	return requested.Intersect(a.inStock...), nil
}
func (a *fakeAdapter) ScreenshotRegion() browser.Selector { return browser.CSS(".sizes") }

type recordingNotifier struct {
	mu         sync.Mutex
	alerts     []notify.Alert
	unresolved map[string]bool
	dispatcher *notify.Dispatcher
}

func (n *recordingNotifier) Resolve(ctx context.Context, destination string) error {
	if n.unresolved[destination] {
		return notify.ErrUnresolvableDestination
	}
	return nil
}

func (n *recordingNotifier) Notify(ctx context.Context, alert notify.Alert) {
	n.dispatcher.Notify(ctx, alert)
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
}

func (n *recordingNotifier) sent() []notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Alert(nil), n.alerts...)
}

type recorderFunc func(ctx context.Context, rec models.CheckRecord) error

func (f recorderFunc) RecordCheck(ctx context.Context, rec models.CheckRecord) error {
	return f(ctx, rec)
}

type harness struct {
	engine   *Engine
	catalog  *catalog.Catalog
	session  *fakeSession
	adapter  *fakeAdapter
	notifier *recordingNotifier
	checked  time.Time
}

func newHarness(t *testing.T, inStock ...string) *harness {
	t.Helper()

	cat := catalog.New()
	session := &fakeSession{dir: t.TempDir()}
	adapter := &fakeAdapter{inStock: inStock}
	notifier := &recordingNotifier{
		unresolved: map[string]bool{},
		dispatcher: notify.NewDispatcher(slog.Default()),
	}

	cfg := Config{
		ProductDelay: ratelimit.NewJitter(0, 0),
		CycleDelay:   ratelimit.NewJitter(time.Hour, time.Hour),
		CheckTimeout: time.Second,
	}
	engine := New(cfg, cat, stores.NewRegistry(adapter), session, notifier, slog.Default())

	checked := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	engine.now = func() time.Time { return checked }

	t.Cleanup(engine.Stop)

	return &harness{engine: engine, catalog: cat, session: session, adapter: adapter, notifier: notifier, checked: checked}
}

func (h *harness) add(t *testing.T, scope, url string, sizes ...string) models.Product {
	t.Helper()
	p, err := h.catalog.Add(scope, models.Product{Store: models.StoreZara, URL: url, Sizes: models.NewSizeSet(sizes...)})
	require.NoError(t, err)
	return p
}

func TestEngine_NotifiesAvailableSizes(t *testing.T) {
	h := newHarness(t, "M", "XL")
	stored := h.add(t, "chan-1", "https://www.zara.com/p/1", "s", "M")
	assert.Equal(t, models.SizeSet{"S", "M"}, stored.Sizes)

	require.True(t, h.engine.Start())
	assert.Equal(t, StateRunning, h.engine.State())
	status := h.engine.Status()
	assert.Equal(t, 1, status.Products)
	assert.Equal(t, 1, status.Channels)

	require.Eventually(t, func() bool { return len(h.notifier.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	alert := h.notifier.sent()[0]
	assert.Equal(t, models.SizeSet{"M"}, alert.AvailableSizes)
	assert.Equal(t, "Wool Coat", alert.Product.Name)
	assert.Equal(t, "129,00 EUR", alert.Product.Price)
	require.NotNil(t, alert.Product.LastCheckedAt)
	assert.Equal(t, h.checked, *alert.Product.LastCheckedAt)
	assert.NotEmpty(t, alert.ScreenshotPath)
	assert.NoFileExists(t, alert.ScreenshotPath)

	list := h.catalog.List("chan-1")
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastCheckedAt)
	assert.Equal(t, h.checked, *list[0].LastCheckedAt)
	assert.Equal(t, "Wool Coat", list[0].Name)

	h.engine.Stop()
	assert.Len(t, h.notifier.sent(), 1)
}

func TestEngine_AlertsAgainEveryCycleWhileInStock(t *testing.T) {
	h := newHarness(t, "M")
	h.engine.cfg.CycleDelay = ratelimit.NewJitter(time.Millisecond, time.Millisecond)
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool { return len(h.notifier.sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	h.engine.Stop()

	for _, alert := range h.notifier.sent() {
		assert.Equal(t, models.SizeSet{"M"}, alert.AvailableSizes)
	}
}

func TestEngine_NoSizesMeansNoAlert(t *testing.T) {
	h := newHarness(t)
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool {
		list := h.catalog.List("chan-1")
		return len(list) == 1 && list[0].LastCheckedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()

	_, _, screenshots := h.session.counts()
	assert.Zero(t, screenshots)
	assert.Empty(t, h.notifier.sent())
}

func TestEngine_UnknownNameKeepsStoredName(t *testing.T) {
	h := newHarness(t)
	h.adapter.name = models.UnknownProductName
	_, err := h.catalog.Add("chan-1", models.Product{
		Store: models.StoreZara,
		URL:   "https://www.zara.com/p/1",
		Sizes: models.NewSizeSet("M"),
		Name:  "Linen Shirt",
	})
	require.NoError(t, err)

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool {
		list := h.catalog.List("chan-1")
		return len(list) == 1 && list[0].LastCheckedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()
	assert.Equal(t, "Linen Shirt", h.catalog.List("chan-1")[0].Name)
}

func TestEngine_FailedCheckStillUpdatesLastChecked(t *testing.T) {
	h := newHarness(t, "M")
	h.session.navErr = fmt.Errorf("%w: timeout", browser.ErrNavigation)
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")

	var records []models.CheckRecord
	var mu sync.Mutex
	h.engine.SetRecorder(recorderFunc(func(ctx context.Context, rec models.CheckRecord) error {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
		return errors.New("db down")
	}))

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool {
		list := h.catalog.List("chan-1")
		return len(list) == 1 && list[0].LastCheckedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()

	assert.Empty(t, h.notifier.sent())
	assert.Equal(t, StateIdle, h.engine.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Error, "navigation failed")
	assert.Equal(t, "chan-1", records[0].Destination)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.engine.Start(), "empty catalog must not start")
	assert.Equal(t, StateIdle, h.engine.State())

	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")
	require.True(t, h.engine.Start())
	assert.False(t, h.engine.Start())
	assert.False(t, h.engine.Start())

	require.Eventually(t, func() bool {
		opens, _, _ := h.session.counts()
		return opens == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()
	opens, closes, _ := h.session.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestEngine_StopsWhenCatalogDrains(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.CycleDelay = ratelimit.NewJitter(10*time.Millisecond, 10*time.Millisecond)
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool {
		opens, _, _ := h.session.counts()
		return opens >= 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.catalog.RemoveAt("chan-1", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.engine.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()
	_, closes, _ := h.session.counts()
	assert.Equal(t, 1, closes)
}

func TestEngine_DriverInitFailureStopsLoop(t *testing.T) {
	h := newHarness(t, "M")
	h.session.openErr = fmt.Errorf("%w: chromium missing", browser.ErrDriverInit)
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")
	h.add(t, "chan-1", "https://www.zara.com/p/2", "M")

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool { return h.engine.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)

	status := h.engine.Status()
	assert.Contains(t, status.LastError, "browser driver failed to start")
	assert.Equal(t, 2, status.Products)

	for _, p := range h.catalog.List("chan-1") {
		assert.Nil(t, p.LastCheckedAt, "fatal errors must not count as a check")
	}

	_, closes, _ := h.session.counts()
	assert.Equal(t, 1, closes)
	assert.Empty(t, h.notifier.sent())

	// restart is explicit
	h.session.mu.Lock()
	h.session.openErr = nil
	h.session.mu.Unlock()
	assert.True(t, h.engine.Start())
}

func TestEngine_SkipsUnresolvableChannel(t *testing.T) {
	h := newHarness(t, "M")
	h.notifier.unresolved["gone"] = true
	h.add(t, "gone", "https://www.zara.com/p/1", "M")
	h.add(t, "chan-1", "https://www.zara.com/p/2", "M")

	require.True(t, h.engine.Start())
	require.Eventually(t, func() bool { return len(h.notifier.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.engine.Stop()

	assert.Equal(t, "chan-1", h.notifier.sent()[0].Product.Destination)
	assert.Nil(t, h.catalog.List("gone")[0].LastCheckedAt)
}

func TestEngine_AdapterPanicIsContained(t *testing.T) {
	h := newHarness(t, "M")
	h.adapter.panics = true
	h.add(t, "chan-1", "https://www.zara.com/p/1", "M")

	_, err := h.engine.Check(context.Background(), h.catalog.List("chan-1")[0])
	assert.ErrorIs(t, err, stores.ErrExtraction)
}

func TestEngine_CheckUnknownStore(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Check(context.Background(), models.Product{Store: models.StoreHM, URL: "https://www2.hm.com/p/1"})
	assert.ErrorIs(t, err, stores.ErrUnknownStore)
}

func TestEngine_ConcurrentAddAndStart(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.CycleDelay = ratelimit.NewJitter(time.Millisecond, time.Millisecond)

	var started int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.catalog.Add("chan-1", models.Product{
				Store: models.StoreZara,
				URL:   fmt.Sprintf("https://www.zara.com/p/%d", i),
				Sizes: models.NewSizeSet("M"),
			})
			assert.NoError(t, err)
			if h.engine.Start() {
				atomic.AddInt32(&started, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
	assert.Equal(t, StateRunning, h.engine.State())
}
