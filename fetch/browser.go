package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/lexmex/scjnpipe/ratelimit"
)

// Browser fetches pages through headless Chrome so the portal's JavaScript
// runs before the HTML is read. The search interface is a stateful form;
// without script execution it renders an empty grid.
//
// Chrome is launched lazily on the first Page call and reused until Close.
type Browser struct {
	ua      string
	timeout time.Duration
	limiter ratelimit.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	closed  bool
}

// BrowserOption configures a Browser.
type BrowserOption func(*Browser)

// WithBrowserUserAgent overrides the page User-Agent.
func WithBrowserUserAgent(ua string) BrowserOption {
	return func(b *Browser) { b.ua = ua }
}

// WithBrowserTimeout sets the per-navigation timeout.
func WithBrowserTimeout(d time.Duration) BrowserOption {
	return func(b *Browser) { b.timeout = d }
}

// WithBrowserLimiter sets the shared rate limiter.
func WithBrowserLimiter(l ratelimit.Limiter) BrowserOption {
	return func(b *Browser) { b.limiter = l }
}

// WithBrowserLogger sets a custom logger.
func WithBrowserLogger(l *slog.Logger) BrowserOption {
	return func(b *Browser) { b.logger = l }
}

// NewBrowser creates a Browser. Chrome is not launched until the first Page.
func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{
		ua:      DefaultUserAgent,
		timeout: 30 * time.Second,
		limiter: ratelimit.NoOp{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Page navigates to pageURL, waits for the load event, and returns the
// rendered DOM as HTML. All failures are ErrBrowser: transient, a retry
// gets a fresh navigation.
func (b *Browser) Page(ctx context.Context, pageURL string) (string, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.tabLocked()
	if err != nil {
		return "", err
	}

	navCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		b.resetLocked()
		return "", fmt.Errorf("%w: navigate %s: %v", ErrBrowser, pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Warn("wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		b.resetLocked()
		return "", fmt.Errorf("%w: read DOM %s: %v", ErrBrowser, pageURL, err)
	}

	html := res.Value.Str()
	b.logger.Debug("rendered page", "url", pageURL, "size", len(html))
	return html, nil
}

// Close shuts Chrome down. The Browser cannot be reused afterwards.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.resetLocked()
	return nil
}

// tabLocked returns the stealth tab, launching Chrome on first use.
func (b *Browser) tabLocked() (*rod.Page, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: browser is closed", ErrBrowser)
	}
	if b.page != nil {
		return b.page, nil
	}

	l := launcher.New().Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	ws, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch: %v", ErrBrowser, err)
	}

	browser := rod.New().ControlURL(ws)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("%w: connect: %v", ErrBrowser, err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("%w: create tab: %v", ErrBrowser, err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.ua}); err != nil {
		b.logger.Warn("set user agent failed", "error", err)
	}

	b.lnch = l
	b.browser = browser
	b.page = page
	b.logger.Info("launched headless chrome", "url", ws)
	return page, nil
}

// resetLocked tears Chrome down so the next Page starts fresh.
func (b *Browser) resetLocked() {
	if b.page != nil {
		b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}
