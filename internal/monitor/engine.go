// Package monitor runs the stock polling loop over the catalog.
//
// A single goroutine owns the loop and is the only caller of the browser Session.
// The loop starts when the first product is added, walks a snapshot of the catalog
// once per cycle and stops on its own once the catalog is empty, releasing the Session.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/notify"
	"github.com/maltedev/size-stock-monitor/internal/ratelimit"
	"github.com/maltedev/size-stock-monitor/internal/stores"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Session is the browser capability the engine drives.
type Session interface {
	stores.Page
	EnsureOpen(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CaptureScreenshot(ctx context.Context, region browser.Selector) string
	Close() error
}

// Notifier delivers alerts. Notify must not fail the caller.
type Notifier interface {
	Resolve(ctx context.Context, destination string) error
	Notify(ctx context.Context, alert notify.Alert)
}

// Recorder stores an audit row per check attempt.
type Recorder interface {
	RecordCheck(ctx context.Context, rec models.CheckRecord) error
}

type Config struct {
	ProductDelay     ratelimit.Jitter
	CycleDelay       ratelimit.Jitter
	CheckTimeout     time.Duration
	ReconnectOnFatal bool
	ReconnectDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProductDelay:   ratelimit.NewJitter(2*time.Second, 5*time.Second),
		CycleDelay:     ratelimit.NewJitter(60*time.Second, 180*time.Second),
		CheckTimeout:   90 * time.Second,
		ReconnectDelay: 5 * time.Minute,
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	State       State      `json:"state"`
	Products    int        `json:"products"`
	Channels    int        `json:"channels"`
	Cycles      uint64     `json:"cycles"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type Engine struct {
	cfg      Config
	catalog  *catalog.Catalog
	registry *stores.Registry
	session  Session
	notifier Notifier
	recorder Recorder
	backoff  *ratelimit.Backoff
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	cycles      uint64
	startedAt   time.Time
	lastCycleAt time.Time
	lastErr     error
}

func New(cfg Config, cat *catalog.Catalog, registry *stores.Registry, session Session, notifier Notifier, logger *slog.Logger) *Engine {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultConfig().CheckTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}

	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		registry: registry,
		session:  session,
		notifier: notifier,
		backoff:  ratelimit.NewBackoff(cfg.ProductDelay),
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
		state:    StateIdle,
	}
}

// SetRecorder enables the check audit log.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Start launches the loop if it is idle and the catalog has products.
// It reports whether a new loop was started; calling it while running is a no-op.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning || !e.catalog.HasAny() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.state = StateRunning
	e.cancel = cancel
	e.done = make(chan struct{})
	e.startedAt = e.now()
	e.lastErr = nil

	e.logger.Info("monitoring started", "products", e.catalog.Len())
	go e.run(ctx, e.done)
	return true
}

// Stop cancels the loop and waits until it has released the Session.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	running := e.state == StateRunning
	e.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		State:    e.state,
		Products: e.catalog.Len(),
		Channels: len(e.catalog.Scopes()),
		Cycles:   e.cycles,
	}
	if e.state == StateRunning {
		started := e.startedAt
		s.StartedAt = &started
	}
	if !e.lastCycleAt.IsZero() {
		last := e.lastCycleAt
		s.LastCycleAt = &last
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if e.stopIfDrained() {
			return
		}
		if ctx.Err() != nil {
			e.finish("stopped", nil)
			return
		}

		err := e.cycle(ctx)
		if errors.Is(err, browser.ErrDriverInit) {
			if !e.cfg.ReconnectOnFatal {
				e.finish("browser failed to start", err)
				return
			}
			e.logger.Error("browser failed to start, retrying later", "error", err, "retry_in", e.cfg.ReconnectDelay)
			e.closeSession()
			if ratelimit.Sleep(ctx, e.cfg.ReconnectDelay) != nil {
				e.finish("stopped", nil)
				return
			}
			continue
		}

		if ctx.Err() != nil {
			e.finish("stopped", nil)
			return
		}

		delay := e.cfg.CycleDelay.Duration()
		e.logger.Debug("cycle complete", "next_in", delay)
		if ratelimit.Sleep(ctx, delay) != nil {
			e.finish("stopped", nil)
			return
		}
	}
}

// stopIfDrained ends the loop when no products are left. The check and the state
// change share the engine lock so a concurrent Start sees either Running or Idle.
func (e *Engine) stopIfDrained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.catalog.HasAny() {
		return false
	}
	e.idleLocked("catalog empty", nil)
	return true
}

func (e *Engine) finish(reason string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idleLocked(reason, err)
}

func (e *Engine) idleLocked(reason string, err error) {
	if cerr := e.session.Close(); cerr != nil {
		e.logger.Warn("failed to close browser session", "error", cerr)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state = StateIdle
	e.lastErr = err

	if err != nil {
		e.logger.Error("monitoring stopped", "reason", reason, "error", err)
		return
	}
	e.logger.Info("monitoring stopped", "reason", reason)
}

func (e *Engine) closeSession() {
	if err := e.session.Close(); err != nil {
		e.logger.Warn("failed to close browser session", "error", err)
	}
}

// cycle checks every product of one catalog snapshot. Only fatal errors are returned.
func (e *Engine) cycle(ctx context.Context) error {
	entries := e.catalog.Snapshot()
	e.logger.Debug("starting cycle", "products", len(entries))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.checkEntry(ctx, entry); err != nil {
			return err
		}
		if i < len(entries)-1 {
			if err := e.backoff.Wait(ctx); err != nil {
				return err
			}
		}
	}

	e.mu.Lock()
	e.cycles++
	e.lastCycleAt = e.now()
	e.mu.Unlock()
	return nil
}

func (e *Engine) checkEntry(ctx context.Context, entry catalog.Entry) error {
	p := entry.Product
	logger := e.logger.With("channel", entry.Scope, "store", p.Store, "url", p.URL)

	if err := e.notifier.Resolve(ctx, entry.Scope); err != nil {
		logger.Error("could not resolve channel, skipping product", "error", err)
		return nil
	}

	result, checkErr := e.Check(ctx, p)
	if errors.Is(checkErr, browser.ErrDriverInit) {
		return checkErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	checkedAt := e.now()
	var current models.Product
	tracked := e.catalog.Update(entry.Scope, p.ID, func(stored *models.Product) {
		stored.LastCheckedAt = &checkedAt
		if result.Name != "" && result.Name != models.UnknownProductName {
			stored.Name = result.Name
		}
		if result.Price != "" {
			stored.Price = result.Price
		}
		current = stored.Clone()
	})

	e.record(ctx, entry, result, checkErr, checkedAt)

	if checkErr != nil {
		e.backoff.RecordError()
		logger.Warn("stock check failed", "error", checkErr)
		return nil
	}
	e.backoff.RecordSuccess()

	if !tracked {
		logger.Debug("product removed during check, dropping result")
		return nil
	}
	if len(result.AvailableSizes) == 0 {
		logger.Debug("no requested sizes available", "sizes", p.Sizes.String())
		return nil
	}

	logger.Info("requested sizes in stock", "available", result.AvailableSizes.String())

	var screenshot string
	if adapter, err := e.registry.Lookup(p.Store); err == nil {
		screenshot = e.session.CaptureScreenshot(ctx, adapter.ScreenshotRegion())
	}

	e.notifier.Notify(ctx, notify.Alert{
		Product:        current,
		AvailableSizes: result.AvailableSizes,
		ScreenshotPath: screenshot,
		CreatedAt:      checkedAt,
	})
	return nil
}

// Check loads the product page and extracts its name, price and available sizes.
// Name and price are filled in even when size extraction fails.
func (e *Engine) Check(ctx context.Context, p models.Product) (result models.PollResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: adapter panic: %v", stores.ErrExtraction, r)
		}
	}()

	adapter, err := e.registry.Lookup(p.Store)
	if err != nil {
		return result, err
	}

	if err := e.session.EnsureOpen(ctx); err != nil {
		return result, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	defer cancel()

	if err := e.session.Navigate(checkCtx, p.URL); err != nil {
		return result, err
	}

	result.Name = adapter.ProductName(checkCtx, e.session)
	if price, ok := adapter.Price(checkCtx, e.session); ok {
		result.Price = price
	}

	sizes, err := adapter.AvailableSizes(checkCtx, e.session, p.Sizes)
	if err != nil {
		return result, err
	}
	result.AvailableSizes = sizes
	return result, nil
}

func (e *Engine) record(ctx context.Context, entry catalog.Entry, result models.PollResult, checkErr error, checkedAt time.Time) {
	if e.recorder == nil {
		return
	}

	rec := models.CheckRecord{
		ProductID:      entry.Product.ID,
		Destination:    entry.Scope,
		Store:          entry.Product.Store,
		URL:            entry.Product.URL,
		AvailableSizes: result.AvailableSizes,
		CheckedAt:      checkedAt,
	}
	if checkErr != nil {
		rec.Error = checkErr.Error()
	}

	if err := e.recorder.RecordCheck(ctx, rec); err != nil {
		e.logger.Warn("failed to record check", "product_id", entry.Product.ID, "error", err)
	}
}
