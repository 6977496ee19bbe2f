package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"snapcart/internal/browser"
	"snapcart/internal/config"
	"snapcart/internal/notify"
	"snapcart/internal/proxy"
	"snapcart/internal/stats"
	"snapcart/internal/store"
)

// Orchestrator owns the set of concurrent sessions for a run. All
// collaborators are injected; nothing here reaches for globals.
type Orchestrator struct {
	cfg      *config.Config
	store    store.Store
	browser  browser.Browser
	notifier notify.Notifier
	sink     stats.Sink
	proxies  *proxy.Rotator
	logger   *slog.Logger
	prices   *PriceWatcher

	mu  sync.Mutex
	run *Run
}

func NewOrchestrator(cfg *config.Config, st store.Store, br browser.Browser, n notify.Notifier, sink stats.Sink, proxies *proxy.Rotator, logger *slog.Logger) *Orchestrator {
	if n == nil {
		n = notify.Nop{}
	}
	if sink == nil {
		sink = stats.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Price history goes wherever attempt records go, when the sink
	// can take it.
	priceLog, _ := sink.(stats.PriceLog)

	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		browser:  br,
		notifier: n,
		sink:     sink,
		proxies:  proxies,
		logger:   logger,
		prices:   NewPriceWatcher(cfg, priceLog, n, logger),
	}
}

// Run is one monitoring run: a set of concurrent sessions plus the
// aggregation loop applying their terminal outcomes.
type Run struct {
	ID       string
	Outcomes <-chan Outcome

	sessions []*Session
	done     chan struct{}
	stop     sync.Once
	wg       sync.WaitGroup
}

// Stop cancels all active sessions cooperatively. It is idempotent and
// safe to call from any goroutine; sessions finish their current
// bounded wait before exiting.
func (r *Run) Stop() {
	r.stop.Do(func() {
		for _, s := range r.sessions {
			s.Cancel()
		}
	})
}

// Wait blocks until every session has reported its terminal outcome
// and the aggregation loop has finished.
func (r *Run) Wait() {
	<-r.done
}

// Start validates the config, selects accounts, and launches one
// session per eligible account. It is idempotent: starting while a run
// is active returns the existing run handle.
func (o *Orchestrator) Start(ctx context.Context) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		select {
		case <-o.run.done:
			// Previous run finished; fall through and start fresh.
		default:
			return o.run, nil
		}
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, &FlowError{Kind: KindInvalidConfiguration, Err: err}
	}

	accounts, err := o.store.Accounts()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	eligible, err := NewAllocator(o.store).Select(accounts, o.cfg)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:   ulid.Make().String(),
		done: make(chan struct{}),
	}

	for _, acct := range eligible {
		session, err := o.newSession(ctx, acct)
		if err != nil {
			// Partial starts are not permitted: undo everything.
			for _, s := range run.sessions {
				s.setState(StateFailed)
				s.release()
			}
			return nil, &FlowError{Kind: KindBrowserUnavailable,
				Err: fmt.Errorf("session for %s: %w", acct.ID, err)}
		}
		run.sessions = append(run.sessions, session)
	}

	results := make(chan Outcome, len(run.sessions))
	for _, session := range run.sessions {
		run.wg.Add(1)
		go func(s *Session) {
			defer run.wg.Done()
			results <- o.runSession(ctx, s)
		}(session)
	}

	out := make(chan Outcome, len(run.sessions))
	run.Outcomes = out
	o.run = run

	go o.aggregate(run, results, out)

	o.logger.Info("monitoring started",
		"run", run.ID, "sessions", len(run.sessions), "target", o.cfg.TargetURL)

	return run, nil
}

// Stop cancels the active run, if any. Stopping while idle is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()

	if run != nil {
		run.Stop()
	}
}

func (o *Orchestrator) newSession(ctx context.Context, acct store.Account) (*Session, error) {
	// Payment profiles were verified by the allocator when
	// auto-purchase requires them; a lookup miss here is tolerable in
	// ready-only (manual confirmation) mode.
	profile, err := o.store.PaymentProfile(acct.ID)
	if err != nil && o.cfg.AutoPurchase {
		return nil, err
	}

	var proxyURL string
	if o.cfg.UseProxies && o.proxies != nil {
		if ep := o.proxies.Next(); ep != nil {
			proxyURL = ep.URL()
		}
	}

	page, err := o.browser.NewPage(ctx, proxyURL)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:        ulid.Make().String(),
		AccountID: acct.ID,
		profile:   profile,
		page:      page,
		proxy:     proxyURL,
		startedAt: time.Now(),
		cancel:    make(chan struct{}),
	}, nil
}

// runSession is one session's whole lifecycle: poll, hand off to the
// flow on availability, and convert every exit path into a terminal
// outcome with the browser page released exactly once.
func (o *Orchestrator) runSession(ctx context.Context, s *Session) Outcome {
	logger := o.logger.With("session", s.ID, "account", s.AccountID)

	outcome := Outcome{
		SessionID: s.ID,
		AccountID: s.AccountID,
		Proxy:     s.proxy,
	}

	defer func() {
		outcome.Elapsed = time.Since(s.startedAt)
		outcome.RetryCount = s.RetryCount()
		outcome.State = s.State()
		s.release()
	}()

	retry := NewRetryController(o.cfg.AutoRetry, o.cfg.MaxRetries, o.cfg.EffectiveRetryDelay())
	poller := NewPoller(o.cfg, retry)
	poller.observe = o.prices.Observe

	signal, err := poller.Run(ctx, s)
	if err != nil {
		s.setState(StateFailed)
		outcome.Err = err
		outcome.ErrorKind = KindOf(err)
		logger.Warn("polling ended", "error", Cause(err), "retries", s.RetryCount())
		return outcome
	}

	outcome.Product = signal.State
	logger.Info("product available",
		"name", signal.State.Name, "price", signal.State.Price)
	o.notifier.Notify("Product available",
		fmt.Sprintf("%s is purchasable at $%.2f", signal.State.Name, signal.State.Price),
		notify.SeverityInfo)

	flow := NewFlow(o.cfg, o.notifier)
	result, err := flow.Run(ctx, s, signal)
	if err != nil {
		s.setState(StateFailed)
		outcome.Err = err
		outcome.ErrorKind = KindOf(err)
		logger.Warn("purchase flow failed", "state", s.State(), "error", Cause(err))
		return outcome
	}

	s.setState(StateCompleted)
	outcome.Ready = result.Ready
	outcome.Purchased = result.Purchased
	if result.Purchased {
		outcome.Quantity = o.cfg.PurchaseLimit.QuantityPerOrder
	}
	return outcome
}

// aggregate is the run's single writer: it applies order-count credits
// synchronously as terminal outcomes arrive, records statistics,
// notifies, and stops siblings once the purchase quota is exhausted.
func (o *Orchestrator) aggregate(run *Run, results <-chan Outcome, out chan<- Outcome) {
	credited := make(map[string]bool)
	remaining := len(run.sessions)

	for remaining > 0 {
		outcome := <-results
		remaining--

		if outcome.Purchased && !credited[outcome.AccountID] {
			credited[outcome.AccountID] = true
			if err := o.store.UpdateAccount(outcome.AccountID, store.AccountPatch{
				OrderCountDelta: outcome.Quantity,
			}); err != nil {
				o.logger.Error("order count update failed",
					"account", outcome.AccountID, "error", err)
			}
			o.notifier.Notify("Purchase complete",
				fmt.Sprintf("%s bought %d× %s", outcome.AccountID, outcome.Quantity, outcome.Product.Name),
				notify.SeveritySuccess)

			if o.quotaExhausted(credited) {
				run.Stop()
			}
		} else if outcome.Err != nil && outcome.ErrorKind != KindCanceled {
			o.notifier.Notify("Session failed",
				fmt.Sprintf("%s: %s", outcome.AccountID, Cause(outcome.Err)),
				notify.SeverityError)
		}

		o.record(outcome)
		out <- outcome
	}

	run.wg.Wait()
	close(out)
	close(run.done)
	o.logger.Info("monitoring finished", "run", run.ID)
}

// quotaExhausted reports whether every selected account has used up
// its purchase credit for this run. Single-account runs stop on the
// first purchase.
func (o *Orchestrator) quotaExhausted(credited map[string]bool) bool {
	if !o.cfg.MultiAccount {
		return len(credited) > 0
	}

	accounts, err := o.store.Accounts()
	if err != nil {
		return false
	}
	for _, acct := range accounts {
		if acct.OrderCount < o.cfg.PurchaseLimit.SingleAccountLimit {
			return false
		}
	}
	return true
}

func (o *Orchestrator) record(outcome Outcome) {
	record := stats.AttemptRecord{
		ID:          ulid.Make().String(),
		Timestamp:   time.Now(),
		AccountID:   outcome.AccountID,
		ProductName: outcome.Product.Name,
		ProductURL:  o.cfg.TargetURL,
		Price:       outcome.Product.Price,
		Quantity:    outcome.Quantity,
		Success:     outcome.Purchased,
		ErrorKind:   string(outcome.ErrorKind),
		ElapsedMs:   outcome.Elapsed.Milliseconds(),
		RetryCount:  outcome.RetryCount,
		Proxy:       outcome.Proxy,
	}
	if err := o.sink.Record(record); err != nil {
		o.logger.Error("attempt record write failed", "error", err)
	}
}
