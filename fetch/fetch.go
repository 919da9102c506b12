// Package fetch acquires upstream pages and PDFs. Two interchangeable
// sources produce HTML: a plain HTTP fetcher and a headless-browser fetcher
// that executes the portal's JavaScript; the parsers consume the rendered
// HTML identically in either mode.
//
// Every outbound request goes through the shared rate limiter first.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lexmex/scjnpipe/ratelimit"
)

const (
	// DefaultUserAgent identifies the pipeline to the upstream portal.
	DefaultUserAgent = "Mozilla/5.0 (compatible; scjnpipe/1.0; +https://github.com/lexmex/scjnpipe)"

	// DefaultMaxHTMLBytes caps HTML page downloads.
	DefaultMaxHTMLBytes = 10 << 20
	// DefaultMaxPDFBytes caps PDF downloads.
	DefaultMaxPDFBytes = 50 << 20
)

var (
	// ErrTooLarge marks a payload over the configured size cap. Permanent:
	// the same URL will not shrink on retry.
	ErrTooLarge = errors.New("fetch: payload too large")

	// ErrEmptyBody marks a 200 response with no bytes. The upstream portal
	// does this for PDFs it has lost.
	ErrEmptyBody = errors.New("fetch: empty response body")

	// ErrBrowser marks a headless-browser failure (launch, navigation,
	// evaluation). Treated as transient: a fresh browser usually recovers.
	ErrBrowser = errors.New("fetch: browser failure")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: status %d", e.URL, e.StatusCode)
}

// Transient reports whether a retry may succeed: 429 and 5xx, yes;
// everything else (404 included), no.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies a fetch error for retry purposes. Network errors,
// timeouts, 429 and 5xx responses, and browser failures are transient;
// 404, oversize and empty payloads are permanent.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmptyBody) {
		return false
	}
	if errors.Is(err, ErrBrowser) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Source produces the rendered HTML of an upstream page. Implemented by
// Fetcher (plain HTTP) and Browser (headless Chrome).
type Source interface {
	Page(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// Fetcher performs plain HTTP GETs against the upstream portal.
type Fetcher struct {
	client       *http.Client
	ua           string
	limiter      ratelimit.Limiter
	logger       *slog.Logger
	maxHTMLBytes int64
	maxPDFBytes  int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLimiter sets the shared rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithMaxPDFBytes sets the PDF download cap.
func WithMaxPDFBytes(n int64) Option {
	return func(f *Fetcher) { f.maxPDFBytes = n }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: 30 * time.Second},
		ua:           DefaultUserAgent,
		limiter:      ratelimit.NoOp{},
		logger:       slog.Default(),
		maxHTMLBytes: DefaultMaxHTMLBytes,
		maxPDFBytes:  DefaultMaxPDFBytes,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Page GETs pageURL and returns its HTML.
func (f *Fetcher) Page(ctx context.Context, pageURL string) (string, error) {
	body, err := f.get(ctx, pageURL,
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		f.maxHTMLBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PDF downloads a PDF. A 200 response with zero bytes is ErrEmptyBody;
// a payload over the cap is ErrTooLarge.
func (f *Fetcher) PDF(ctx context.Context, pdfURL string) ([]byte, error) {
	body, err := f.get(ctx, pdfURL, "application/pdf,*/*;q=0.8", f.maxPDFBytes)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBody, pdfURL)
	}
	return body, nil
}

// Close implements Source. The HTTP fetcher holds no resources.
func (f *Fetcher) Close() error { return nil }

func (f *Fetcher) get(ctx context.Context, rawURL, accept string, maxBytes int64) ([]byte, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	// An advertised oversize payload fails before any of it is downloaded.
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %s advertises %d bytes, cap %d",
			ErrTooLarge, rawURL, resp.ContentLength, maxBytes)
	}

	// Read one byte past the cap so an exactly-at-cap payload still passes.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, rawURL, maxBytes)
	}

	f.logger.Debug("fetched", "url", rawURL, "status", resp.StatusCode, "size", len(body))
	return body, nil
}
