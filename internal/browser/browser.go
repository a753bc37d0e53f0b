package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/size-stock-monitor/internal/ratelimit"
)

var (
	ErrDriverInit     = errors.New("browser driver failed to start")
	ErrNavigation     = errors.New("navigation failed")
	ErrElementTimeout = errors.New("timed out waiting for element")
	ErrBlocked        = errors.New("blocked by anti-bot protection")
	ErrClosed         = errors.New("browser session is closed")
)

// hides the most common automation fingerprints before any page script runs
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = { runtime: {} };
`

// Session owns a single playwright browser with one page. All calls are serialized.
type Session struct {
	opts   *Options
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

type Options struct {
	Headless           bool
	Timeout            time.Duration
	UserAgents         []string
	ViewportWidth      int
	ViewportHeight     int
	Locale             string
	TimezoneID         string
	ProxyServer        string
	ExtraHeaders       map[string]string
	NavigationDelay    ratelimit.Jitter
	ScreenshotDir      string
	ScreenshotMaxWidth int
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgents:     DefaultUserAgents(),
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "Europe/Berlin",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
		NavigationDelay:    ratelimit.NewJitter(time.Second, 3*time.Second),
		ScreenshotDir:      "screenshots",
		ScreenshotMaxWidth: 1024,
	}
}

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// pickUserAgent returns a random entry of the pool, or the first default when the pool is empty.
func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return DefaultUserAgents()[0]
	}
	return pool[rand.Intn(len(pool))]
}

// New prepares a session. The driver is started lazily by EnsureOpen.
func New(opts *Options, logger *slog.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

// EnsureOpen starts playwright, chromium, a context and a page if not already running.
func (s *Session) EnsureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		if !s.stale() {
			return nil
		}
		s.logger.Warn("browser disconnected, restarting session")
		if err := s.closeLocked(); err != nil {
			s.logger.Warn("failed to tear down stale session", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.open()
}

// stale reports whether the page or the browser process behind it has gone away.
func (s *Session) stale() bool {
	if s.page == nil {
		return false
	}
	if s.page.IsClosed() {
		return true
	}
	return s.browser != nil && !s.browser.IsConnected()
}

func (s *Session) open() error {
	userAgent := pickUserAgent(s.opts.UserAgents)

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("%w: failed to start playwright: %v", ErrDriverInit, err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-gpu",
			fmt.Sprintf("--window-size=%d,%d", s.opts.ViewportWidth, s.opts.ViewportHeight),
		},
		IgnoreDefaultArgs: []string{"--enable-automation"},
	}

	if s.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: s.opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("%w: failed to launch browser: %v", ErrDriverInit, err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(userAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(s.opts.Locale),
		TimezoneId:        playwright.String(s.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  s.opts.ViewportWidth,
			Height: s.opts.ViewportHeight,
		},
		ExtraHttpHeaders: s.opts.ExtraHeaders,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("%w: failed to create browser context: %v", ErrDriverInit, err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		s.logger.Warn("failed to install stealth script", "error", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return fmt.Errorf("%w: failed to create page: %v", ErrDriverInit, err)
	}
	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))

	s.pw = pw
	s.browser = browser
	s.context = bctx
	s.page = page

	s.logger.Info("browser session opened", "user_agent", userAgent, "headless", s.opts.Headless)
	return nil
}

// Navigate loads url, pausing a random interval before and after the request.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return ErrClosed
	}

	if err := s.opts.NavigationDelay.Wait(ctx); err != nil {
		return err
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}

	if err := s.opts.NavigationDelay.Wait(ctx); err != nil {
		return err
	}

	if s.checkIfBlocked() {
		return fmt.Errorf("%w: %s", ErrBlocked, url)
	}

	return nil
}

func (s *Session) checkIfBlocked() bool {
	captchaSelectors := []string{
		"#captcha-container",
		"iframe[src*='captcha']",
		"form[action*='captcha']",
		"#px-captcha",
	}

	for _, selector := range captchaSelectors {
		if count, _ := s.page.Locator(selector).Count(); count > 0 {
			s.logger.Warn("detected captcha/block", "selector", selector)
			return true
		}
	}

	title, _ := s.page.Title()
	lower := strings.ToLower(title)
	if strings.Contains(lower, "access denied") || strings.Contains(lower, "robot") {
		s.logger.Warn("detected robot check in title", "title", title)
		return true
	}

	return false
}

// WaitFor blocks until sel matches at least one element or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.locate(sel).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s", ErrElementTimeout, sel)
		}
		return fmt.Errorf("wait for %s: %w", sel, err)
	}

	return nil
}

// Extract returns a snapshot of every element matched by sel.
func (s *Session) Extract(ctx context.Context, sel Selector) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.locate(sel).EvaluateAll(extractScript)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", sel, err)
	}

	return decodeElements(raw)
}

// Click clicks the first element matched by sel.
func (s *Session) Click(ctx context.Context, sel Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.locate(sel).First().Click(); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s", ErrElementTimeout, sel)
		}
		return fmt.Errorf("click %s: %w", sel, err)
	}

	return nil
}

// Content returns the current page HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

// CaptureScreenshot captures region (or the full page when it is absent), downsamples it
// and writes it to a timestamped file. It returns "" when nothing could be written.
func (s *Session) CaptureScreenshot(ctx context.Context, region Selector) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil || ctx.Err() != nil {
		return ""
	}

	data, err := s.screenshot(region)
	if err != nil {
		s.logger.Warn("screenshot failed", "error", err)
		return ""
	}

	data, err = Downsample(data, s.opts.ScreenshotMaxWidth)
	if err != nil {
		s.logger.Warn("failed to downsample screenshot", "error", err)
		return ""
	}

	path, err := writeScreenshot(s.opts.ScreenshotDir, data, time.Now())
	if err != nil {
		s.logger.Warn("failed to write screenshot", "error", err)
		return ""
	}

	return path
}

func (s *Session) screenshot(region Selector) ([]byte, error) {
	if !region.IsZero() {
		loc := s.locate(region).First()
		if count, err := loc.Count(); err == nil && count > 0 {
			data, err := loc.Screenshot(playwright.LocatorScreenshotOptions{
				Timeout: playwright.Float(5000),
			})
			if err == nil {
				return data, nil
			}
			s.logger.Debug("region screenshot failed, using full page", "region", region.String(), "error", err)
		}
	}

	return s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

func writeScreenshot(dir string, data []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("stock_%s_%03d.jpg", now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// locate resolves sel by chaining one locator per shadow host, then the target css.
// Playwright css locators pierce open shadow roots, so each step descends one root.
func (s *Session) locate(sel Selector) playwright.Locator {
	steps := sel.Steps()
	loc := s.page.Locator(steps[0])
	for _, step := range steps[1:] {
		loc = loc.Locator(step)
	}
	return loc
}

// Close shuts the page, context, browser and driver. Safe to call repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.pw == nil && s.page == nil {
		return nil
	}

	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	s.pw = nil
	s.browser = nil
	s.context = nil
	s.page = nil

	s.logger.Info("browser session closed")

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	return nil
}
