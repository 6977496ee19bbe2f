package monitor

import (
	"context"
	"math/rand"
	"time"

	"snapcart/internal/browser"
	"snapcart/internal/config"
)

// Poller drives one session's availability loop: load the target page,
// evaluate the structured purchasability signal, and hand off to the
// purchase flow exactly once on the first positive signal.
type Poller struct {
	cfg   *config.Config
	retry *RetryController
	rand  *rand.Rand

	// observe, when set, receives every successfully probed product
	// state. The price watcher hangs off this hook.
	observe func(browser.ProductState)

	// sleep is swappable so tests do not wait on real timers.
	sleep func(ctx context.Context, s *Session, d time.Duration) bool
}

func NewPoller(cfg *config.Config, retry *RetryController) *Poller {
	return &Poller{
		cfg:   cfg,
		retry: retry,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: cancellableSleep,
	}
}

// Run polls until availability, cancellation, or failure. It returns a
// positive Signal at most once; the caller invokes the flow and never
// re-enters the poll loop for this session.
func (p *Poller) Run(ctx context.Context, s *Session) (Signal, error) {
	s.setState(StatePolling)

	warmedUp := false

	for {
		if s.canceled() || ctx.Err() != nil {
			return Signal{}, flowErr(KindCanceled, "polling canceled")
		}

		signal, err := p.pollOnce(ctx, s)
		if err != nil {
			delay, ok := p.retry.Admit(s, err)
			if !ok {
				if Retryable(err) {
					return Signal{}, &FlowError{Kind: KindRetriesExhausted, Err: err}
				}
				return Signal{}, err
			}
			if !p.sleep(ctx, s, delay) {
				return Signal{}, flowErr(KindCanceled, "polling canceled")
			}
			continue
		}

		if p.observe != nil {
			p.observe(signal.State)
		}

		if !warmedUp && p.cfg.WarmUp {
			s.page.WarmUp(ctx)
			warmedUp = true
		}

		if signal.Available {
			return signal, nil
		}

		if !p.sleep(ctx, s, p.jitteredInterval()) {
			return Signal{}, flowErr(KindCanceled, "polling canceled")
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, s *Session) (Signal, error) {
	res, err := s.page.Navigate(ctx, p.cfg.TargetURL, p.cfg.Timeouts.PageLoad)
	if err != nil {
		return Signal{}, &FlowError{Kind: KindNavigation, Err: err}
	}
	if res.Status != 200 && res.Status != 304 {
		return Signal{}, flowErr(KindPageLoad, "page load returned status %d", res.Status)
	}

	state, err := s.page.ProductState(ctx)
	if err != nil {
		return Signal{}, &FlowError{Kind: KindElementNotFound, Err: err}
	}

	return Evaluate(state), nil
}

// jitteredInterval spreads sibling sessions out so they do not hit the
// store page in synchronized bursts.
func (p *Poller) jitteredInterval() time.Duration {
	base := p.cfg.PollInterval
	jitter := time.Duration(p.rand.Int63n(int64(base)/5 + 1))
	return base + jitter
}

// cancellableSleep waits for d, returning false if the session or the
// run is canceled first.
func cancellableSleep(ctx context.Context, s *Session, d time.Duration) bool {
	if d <= 0 {
		return !s.canceled() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}
