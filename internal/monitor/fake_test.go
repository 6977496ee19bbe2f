package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"snapcart/internal/browser"
	"snapcart/internal/config"
	"snapcart/internal/notify"
	"snapcart/internal/stats"
	"snapcart/internal/store"
)

// fakePage is a scriptable browser.Page. The defaults describe a
// healthy product page that sails through checkout; tests override
// individual hooks to break specific steps.
type fakePage struct {
	mu sync.Mutex

	navFn   func(call int) (browser.NavigateResult, error)
	stateFn func(call int) (browser.ProductState, error)
	bodyFn  func(call int, marker string) (bool, error)

	currentURL string
	visible    map[string]bool
	clickErr   map[string]error
	typeErr    map[string]error
	setValErr  map[string]error

	navCalls   int
	stateCalls int
	bodyCalls  int
	clicks     []string
	typed      map[string]string
	selected   map[string]string
	setValues  map[string]string
	warmUps    int
	closes     int
}

func availableState() browser.ProductState {
	return browser.ProductState{
		CartControl: true,
		Name:        "Pocket Console",
		Price:       79.99,
	}
}

func newFakePage() *fakePage {
	return &fakePage{
		currentURL: "https://shop.example/checkouts/abc123",
		visible:    map[string]bool{},
		clickErr:   map[string]error{},
		typeErr:    map[string]error{},
		setValErr:  map[string]error{},
		typed:      map[string]string{},
		selected:   map[string]string{},
		setValues:  map[string]string{},
		navFn: func(int) (browser.NavigateResult, error) {
			return browser.NavigateResult{Status: 200, FinalURL: "https://shop.example/p/1"}, nil
		},
		stateFn: func(int) (browser.ProductState, error) {
			return availableState(), nil
		},
		bodyFn: func(int, string) (bool, error) { return false, nil },
	}
}

func (p *fakePage) Navigate(_ context.Context, _ string, _ time.Duration) (browser.NavigateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCalls++
	return p.navFn(p.navCalls)
}

func (p *fakePage) ProductState(_ context.Context) (browser.ProductState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateCalls++
	return p.stateFn(p.stateCalls)
}

func (p *fakePage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible[selector] {
		return nil
	}
	return fmt.Errorf("%w: %s", browser.ErrWaitTimeout, selector)
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.clickErr[selector]; err != nil {
		return err
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Type(_ context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.typeErr[selector]; err != nil {
		return err
	}
	p.typed[selector] = text
	return nil
}

func (p *fakePage) SetValue(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.setValErr[selector]; err != nil {
		return err
	}
	p.setValues[selector] = value
	return nil
}

func (p *fakePage) Select(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected[selector] = value
	return nil
}

func (p *fakePage) BodyContains(_ context.Context, marker string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodyCalls++
	return p.bodyFn(p.bodyCalls, marker)
}

func (p *fakePage) CurrentURL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL, nil
}

func (p *fakePage) WarmUp(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warmUps++
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePage) typedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.typed)
}

// fakeBrowser hands out one fakePage per NewPage call.
type fakeBrowser struct {
	mu      sync.Mutex
	pages   []*fakePage
	factory func() *fakePage
}

func newFakeBrowser(factory func() *fakePage) *fakeBrowser {
	if factory == nil {
		factory = newFakePage
	}
	return &fakeBrowser{factory: factory}
}

func (b *fakeBrowser) NewPage(_ context.Context, _ string) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	page := b.factory()
	b.pages = append(b.pages, page)
	return page, nil
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) pageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

// fakeStore is an in-memory store.Store.
type fakeStore struct {
	mu       sync.Mutex
	accounts []store.Account
	profiles map[string]*store.PaymentProfile
}

func newFakeStore(accounts []store.Account, profiles map[string]*store.PaymentProfile) *fakeStore {
	if profiles == nil {
		profiles = map[string]*store.PaymentProfile{}
	}
	return &fakeStore{accounts: accounts, profiles: profiles}
}

func (s *fakeStore) Accounts() ([]store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Account, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

func (s *fakeStore) UpdateAccount(id string, patch store.AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			s.accounts[i].OrderCount += patch.OrderCountDelta
			return nil
		}
	}
	return store.ErrAccountNotFound
}

func (s *fakeStore) PaymentProfile(accountID string) (*store.PaymentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[accountID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, store.ErrProfileNotFound
}

func (s *fakeStore) orderCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a.OrderCount
		}
	}
	return -1
}

func validProfile(owner string) *store.PaymentProfile {
	return &store.PaymentProfile{
		OwnerID: owner,
		Delivery: store.Delivery{
			FirstName:  "Ada",
			LastName:   "Lovelace",
			Address1:   "12 Analytical Way",
			City:       "London",
			PostalCode: "EC1A 1AA",
			Phone:      "02071234567",
			Country:    "United Kingdom",
		},
		UseSameAddress: true,
		Card: store.Card{
			Number:   "4242424242424242",
			Holder:   "Ada Lovelace",
			ExpMonth: "12",
			ExpYear:  "2030",
			CVV:      "123",
		},
	}
}

// testConfig is a valid config with short timeouts so deadline loops
// finish quickly under test.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TargetURL = "https://shop.example/p/1"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.WarmUp = false
	cfg.Timeouts.ElementWait = 50 * time.Millisecond
	cfg.Timeouts.Navigation = 50 * time.Millisecond
	cfg.Timeouts.PageLoad = 50 * time.Millisecond
	cfg.Timeouts.QueueWait = 200 * time.Millisecond
	return cfg
}

func newTestSession(page browser.Page, profile *store.PaymentProfile) *Session {
	return &Session{
		ID:        "sess-test",
		AccountID: "acct-1",
		profile:   profile,
		page:      page,
		startedAt: time.Now(),
		cancel:    make(chan struct{}),
	}
}

// instantSleep skips real waiting but still honors cancellation.
func instantSleep(ctx context.Context, s *Session, _ time.Duration) bool {
	return !s.canceled() && ctx.Err() == nil
}

// recordingNotifier captures notification titles for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, _ string, _ notify.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) seen(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

// recordingSink captures attempt records and price points in memory.
type recordingSink struct {
	mu      sync.Mutex
	records []stats.AttemptRecord
	prices  []stats.PricePoint
}

func (s *recordingSink) Record(rec stats.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) RecordPrice(point stats.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, point)
	return nil
}

func (s *recordingSink) pricePoints() []stats.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stats.PricePoint, len(s.prices))
	copy(out, s.prices)
	return out
}

func (s *recordingSink) all() []stats.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stats.AttemptRecord, len(s.records))
	copy(out, s.records)
	return out
}
