package monitor

import (
	"context"
	"testing"
	"time"

	"snapcart/internal/browser"
)

func newTestPoller(autoRetry bool, maxRetries int) *Poller {
	cfg := testConfig()
	cfg.AutoRetry = autoRetry
	cfg.MaxRetries = maxRetries
	p := NewPoller(cfg, NewRetryController(autoRetry, maxRetries, cfg.EffectiveRetryDelay()))
	p.sleep = instantSleep
	return p
}

func TestPollerReturnsOnFirstAvailability(t *testing.T) {
	page := newFakePage()
	page.stateFn = func(call int) (browser.ProductState, error) {
		state := availableState()
		// Sold out for the first two polls, purchasable on the third.
		state.SoldOut = call < 3
		return state, nil
	}
	s := newTestSession(page, nil)

	signal, err := newTestPoller(true, 3).Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !signal.Available {
		t.Fatal("Run() returned an unavailable signal")
	}
	if page.stateCalls != 3 {
		t.Errorf("product state read %d times, want 3", page.stateCalls)
	}
	if s.State() != StatePolling {
		t.Errorf("state = %s, want polling", s.State())
	}
}

func TestPollerExhaustsRetries(t *testing.T) {
	page := newFakePage()
	page.navFn = func(int) (browser.NavigateResult, error) {
		return browser.NavigateResult{Status: 503}, nil
	}
	s := newTestSession(page, nil)

	const maxRetries = 3
	_, err := newTestPoller(true, maxRetries).Run(context.Background(), s)
	if err == nil {
		t.Fatal("Run() succeeded against a dead page")
	}
	if got := KindOf(err); got != KindRetriesExhausted {
		t.Errorf("error kind = %q, want %q", got, KindRetriesExhausted)
	}
	if page.navCalls != maxRetries {
		t.Errorf("navigation attempted %d times, want exactly %d", page.navCalls, maxRetries)
	}
	if s.RetryCount() != maxRetries {
		t.Errorf("retry count = %d, want %d", s.RetryCount(), maxRetries)
	}
}

func TestPollerAutoRetryOffFailsOnFirstError(t *testing.T) {
	page := newFakePage()
	page.navFn = func(int) (browser.NavigateResult, error) {
		return browser.NavigateResult{Status: 500}, nil
	}
	s := newTestSession(page, nil)

	_, err := newTestPoller(false, 3).Run(context.Background(), s)
	if err == nil {
		t.Fatal("Run() succeeded against a dead page")
	}
	if page.navCalls != 1 {
		t.Errorf("navigation attempted %d times, want 1", page.navCalls)
	}
}

func TestPollerNotModifiedStatusIsHealthy(t *testing.T) {
	page := newFakePage()
	page.navFn = func(int) (browser.NavigateResult, error) {
		return browser.NavigateResult{Status: 304}, nil
	}
	s := newTestSession(page, nil)

	signal, err := newTestPoller(true, 3).Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !signal.Available {
		t.Error("Run() treated 304 as a failed load")
	}
}

func TestPollerCancellation(t *testing.T) {
	page := newFakePage()
	page.stateFn = func(int) (browser.ProductState, error) {
		return browser.ProductState{SoldOut: true}, nil
	}
	s := newTestSession(page, nil)

	p := newTestPoller(true, 3)
	p.sleep = func(_ context.Context, s *Session, _ time.Duration) bool {
		s.Cancel()
		return false
	}

	_, err := p.Run(context.Background(), s)
	if got := KindOf(err); got != KindCanceled {
		t.Errorf("error kind = %q, want %q", got, KindCanceled)
	}
}

func TestPollerWarmUpRunsOnce(t *testing.T) {
	page := newFakePage()
	page.stateFn = func(call int) (browser.ProductState, error) {
		state := availableState()
		state.SoldOut = call < 4
		return state, nil
	}
	s := newTestSession(page, nil)

	cfg := testConfig()
	cfg.WarmUp = true
	p := NewPoller(cfg, NewRetryController(true, 3, time.Millisecond))
	p.sleep = instantSleep

	if _, err := p.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if page.warmUps != 1 {
		t.Errorf("warm-up ran %d times, want 1", page.warmUps)
	}
}

func TestJitteredInterval(t *testing.T) {
	p := newTestPoller(true, 3)
	base := p.cfg.PollInterval

	for i := 0; i < 100; i++ {
		d := p.jitteredInterval()
		if d < base || d > base+base/5 {
			t.Fatalf("jittered interval %s outside [%s, %s]", d, base, base+base/5)
		}
	}
}
