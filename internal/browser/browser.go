// Package browser exposes the browser-automation capability the
// monitor core consumes. The core only sees this interface; concrete
// selectors, JavaScript and launcher wiring live in the rod adapter.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout reports that an element did not appear (or become
// visible) within its bounded wait.
var ErrWaitTimeout = errors.New("wait for element timed out")

// NavigateResult reports the outcome of a page navigation.
type NavigateResult struct {
	Status   int
	FinalURL string
}

// ProductState is the structured availability probe of the target
// page: the raw evidence the poller turns into an availability signal.
type ProductState struct {
	// CartControl is true when an add-to-cart control exists and is
	// enabled, displayed and visible.
	CartControl bool
	// SoldOut is true when any sold-out or out-of-stock marker is
	// present.
	SoldOut bool
	// StockCount is nil when the page exposes no numeric stock count.
	StockCount *int
	Price      float64
	Name       string
	// Captcha reports a visible captcha challenge. The engine only
	// detects and reports it.
	Captcha bool
}

// Page is one isolated browsing context, exclusively owned by a single
// session. Close must be safe to call exactly once; the session
// guarantees it is never used afterwards.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (NavigateResult, error)
	ProductState(ctx context.Context) (ProductState, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// SetValue writes an input's value directly, bypassing per-key
	// typing. Used for the quantity field.
	SetValue(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	BodyContains(ctx context.Context, marker string) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	// WarmUp runs a short burst of synthetic interaction on the page.
	WarmUp(ctx context.Context)
	Close() error
}

// Browser creates isolated pages. Each session gets its own page with
// its own cookies and storage so accounts never share state.
type Browser interface {
	NewPage(ctx context.Context, proxyURL string) (Page, error)
	Close() error
}
