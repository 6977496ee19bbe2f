package monitor

import (
	"errors"
	"fmt"
	"strings"

	"snapcart/internal/browser"
)

// ErrorKind labels a terminal failure for notifications and attempt
// records.
type ErrorKind string

const (
	KindNone ErrorKind = ""

	// Transient automation failures: retryable.
	KindPageLoad        ErrorKind = "page_load"
	KindNavigation      ErrorKind = "navigation"
	KindElementNotFound ErrorKind = "element_not_found"

	// Flow step failures.
	KindCartAddTimeout  ErrorKind = "cart_add_timeout"
	KindCheckoutFailed  ErrorKind = "checkout_failed"
	KindQueueTimeout    ErrorKind = "queue_timeout"
	KindSubmitFailed    ErrorKind = "submit_failed"
	KindCaptchaDetected ErrorKind = "captcha_detected"

	// Business-rule aborts: fatal to the session, not to the run.
	KindPriceExceeded     ErrorKind = "price_exceeded"
	KindIncompleteProfile ErrorKind = "incomplete_payment_profile"
	KindOrderCapReached   ErrorKind = "order_cap_reached"

	// Run-level configuration failures.
	KindNoEligibleAccount         ErrorKind = "no_eligible_account"
	KindIncompletePaymentConfig   ErrorKind = "incomplete_payment_configuration"
	KindInvalidConfiguration      ErrorKind = "invalid_configuration"
	KindBrowserUnavailable        ErrorKind = "browser_unavailable"
	KindRetriesExhausted          ErrorKind = "retries_exhausted"
	KindCanceled                  ErrorKind = "canceled"
	KindIrrecoverableEnvironment  ErrorKind = "environment_failure"
)

var (
	// ErrNoEligibleAccount is returned when single-account mode finds
	// no default account.
	ErrNoEligibleAccount = errors.New("no eligible account")
	// ErrIncompletePaymentConfiguration aborts the whole start request
	// when auto-purchase accounts lack payment profiles.
	ErrIncompletePaymentConfiguration = errors.New("incomplete payment configuration")
	// ErrAlreadyRunning is not an error condition for callers; Start
	// returns the existing run alongside it.
	ErrAlreadyRunning = errors.New("monitoring already running")
)

// FlowError attaches an ErrorKind to an underlying cause. Kind drives
// retry classification and the error_kind column of attempt records.
type FlowError struct {
	Kind ErrorKind
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowErr(kind ErrorKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to
// environment failure for unclassified errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, browser.ErrWaitTimeout) {
		return KindElementNotFound
	}
	return KindIrrecoverableEnvironment
}

// Retryable reports whether an error is a transient automation failure
// worth another attempt. Business-rule aborts and configuration errors
// are always fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindPageLoad, KindNavigation, KindElementNotFound:
		return true
	}
	if errors.Is(err, browser.ErrWaitTimeout) {
		return true
	}
	return isNavigationTimeout(err)
}

// isNavigationTimeout matches driver-level timeout text for errors
// that never got classified with a kind.
func isNavigationTimeout(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "net::err")
}

// Cause renders a single-line human-readable cause for notifications;
// stack traces and wrapping noise are stripped.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
