package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"snapcart/internal/browser"
	"snapcart/internal/store"
)

// SessionState tracks one account's monitor+purchase lifecycle.
type SessionState int32

const (
	StateIdle SessionState = iota
	StatePolling
	StateAddToCart
	StateOpenCheckout
	StateQueued
	StateFillForm
	StateSubmit
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateAddToCart:
		return "add_to_cart"
	case StateOpenCheckout:
		return "open_checkout"
	case StateQueued:
		return "queued"
	case StateFillForm:
		return "fill_form"
	case StateSubmit:
		return "submit"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions occur.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Session is one account's independent lifecycle bound to one browser
// page. The page is acquired once at creation and released exactly
// once, on every exit path; releaseOnce makes double-release
// structurally impossible, and marking the session terminal before
// release makes use-after-release a state violation rather than a
// crash.
type Session struct {
	ID        string
	AccountID string

	profile *store.PaymentProfile
	page    browser.Page
	proxy   string

	state      atomic.Int32
	retryCount int
	startedAt  time.Time

	cancel      chan struct{}
	cancelOnce  sync.Once
	releaseOnce sync.Once
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// RetryCount is monotonically non-decreasing within a session.
func (s *Session) RetryCount() int { return s.retryCount }

// Cancel requests cooperative shutdown. The session checks the flag at
// the top of each poll/step iteration and after each bounded wait; an
// in-flight browser call is left to finish or time out naturally.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *Session) canceled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// release closes the browser page exactly once. The session state must
// already be terminal when this runs.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.page != nil {
			s.page.Close()
		}
	})
}

// Outcome is the terminal report of one session, observed by the
// orchestrator.
type Outcome struct {
	SessionID  string
	AccountID  string
	State      SessionState
	// Ready is set when auto-purchase is off and the flow stopped just
	// before submitting: the operator has a filled form waiting.
	Ready      bool
	Purchased  bool
	Quantity   int
	Product    browser.ProductState
	Err        error
	ErrorKind  ErrorKind
	Elapsed    time.Duration
	RetryCount int
	Proxy      string
}
