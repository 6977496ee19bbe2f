package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/notify"
	"snapcart/internal/store"
)

// Flow drives one session from a positive availability signal through
// cart-add, checkout, queue-wait, form fill and order submission.
//
// States: Idle → AddToCart → OpenCheckout → (Queued)? → FillForm →
// Submit → Completed, with Failed reachable from any non-terminal
// state. When auto-purchase is off the flow stops after FillForm and
// reports a ready (non-purchased) outcome.
type Flow struct {
	cfg      *config.Config
	notifier notify.Notifier

	// sleep and queuePoll are swappable for tests.
	sleep         func(ctx context.Context, s *Session, d time.Duration) bool
	queuePollStep time.Duration
}

func NewFlow(cfg *config.Config, notifier notify.Notifier) *Flow {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Flow{
		cfg:           cfg,
		notifier:      notifier,
		sleep:         cancellableSleep,
		queuePollStep: 5 * time.Second,
	}
}

// FlowResult reports how far the flow got.
type FlowResult struct {
	// Purchased is true only after a confirmed order submission.
	Purchased bool
	// Ready is true when the form is filled and submission was
	// deliberately skipped (auto-purchase off).
	Ready bool
}

// Run executes the purchase flow once. Any returned error carries an
// ErrorKind; the caller converts it into a terminal outcome.
func (f *Flow) Run(ctx context.Context, s *Session, signal Signal) (FlowResult, error) {
	state := signal.State

	if state.Captcha {
		return FlowResult{}, flowErr(KindCaptchaDetected, "captcha challenge on product page")
	}

	if err := f.addToCart(ctx, s); err != nil {
		return FlowResult{}, err
	}

	f.notifier.Notify("Added to cart",
		fmt.Sprintf("%s ($%.2f) for %s", state.Name, state.Price, s.AccountID),
		notify.SeveritySuccess)

	// Price gate sits between AddToCart and FillForm: the cart add is
	// not reversed, but no payment data is ever submitted.
	if f.cfg.PriceLimit.Enabled && state.Price > f.cfg.PriceLimit.MaxPrice {
		return FlowResult{}, flowErr(KindPriceExceeded,
			"price %.2f exceeds limit %.2f", state.Price, f.cfg.PriceLimit.MaxPrice)
	}

	if err := f.openCheckout(ctx, s); err != nil {
		return FlowResult{}, err
	}

	if err := f.waitOutQueue(ctx, s); err != nil {
		return FlowResult{}, err
	}

	if err := f.fillForm(ctx, s); err != nil {
		return FlowResult{}, err
	}

	if !f.cfg.AutoPurchase {
		f.notifier.Notify("Manual confirmation required",
			fmt.Sprintf("checkout for %s is filled and waiting; submit it in the browser", s.AccountID),
			notify.SeverityInfo)
		return FlowResult{Ready: true}, nil
	}

	if err := f.submit(ctx, s); err != nil {
		return FlowResult{}, err
	}

	return FlowResult{Purchased: true}, nil
}

// addToCart sets the desired quantity, invokes the cart control, and
// confirms by any of: cart notification, side-cart panel, or a
// checkout URL appearing within the bounded wait.
func (f *Flow) addToCart(ctx context.Context, s *Session) error {
	if s.canceled() {
		return flowErr(KindCanceled, "canceled before cart add")
	}
	s.setState(StateAddToCart)
	sel := f.cfg.Selectors

	quantity := f.cfg.PurchaseLimit.QuantityPerOrder
	if quantity > 1 {
		if err := f.setQuantity(ctx, s, quantity); err != nil {
			return err
		}
	}

	if err := s.page.Click(ctx, sel.AddToCartButton); err != nil {
		return &FlowError{Kind: KindCartAddTimeout, Err: err}
	}

	deadline := time.Now().Add(f.cfg.Timeouts.ElementWait)
	for {
		if confirmed, _ := f.cartAddConfirmed(ctx, s); confirmed {
			return nil
		}
		if time.Now().After(deadline) {
			return flowErr(KindCartAddTimeout,
				"no cart notification, side cart, or checkout URL within %s", f.cfg.Timeouts.ElementWait)
		}
		if !f.sleep(ctx, s, 100*time.Millisecond) {
			return flowErr(KindCanceled, "canceled during cart add")
		}
	}
}

func (f *Flow) cartAddConfirmed(ctx context.Context, s *Session) (bool, error) {
	sel := f.cfg.Selectors

	const probe = 100 * time.Millisecond
	if err := s.page.WaitVisible(ctx, sel.CartNotice, probe); err == nil {
		return true, nil
	}
	if err := s.page.WaitVisible(ctx, sel.SideCart, probe); err == nil {
		return true, nil
	}
	current, err := s.page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(current, sel.CheckoutURLPattern), nil
}

// setQuantity writes the quantity field directly and falls back to
// N-1 increment clicks when the page has no writable field.
func (f *Flow) setQuantity(ctx context.Context, s *Session, quantity int) error {
	sel := f.cfg.Selectors

	if err := s.page.SetValue(ctx, sel.QuantityInput, strconv.Itoa(quantity)); err == nil {
		return nil
	}

	for i := 0; i < quantity-1; i++ {
		if err := s.page.Click(ctx, sel.QuantityUp); err != nil {
			return &FlowError{Kind: KindCartAddTimeout,
				Err: fmt.Errorf("set quantity %d: %w", quantity, err)}
		}
	}
	return nil
}

// openCheckout clicks through to checkout and confirms by URL pattern
// match or navigation completion.
func (f *Flow) openCheckout(ctx context.Context, s *Session) error {
	if s.canceled() {
		return flowErr(KindCanceled, "canceled before checkout")
	}
	s.setState(StateOpenCheckout)
	sel := f.cfg.Selectors

	// Some layouts surface checkout from the side cart, others behind
	// the cart page. Try the direct control first.
	if err := s.page.Click(ctx, sel.CheckoutButton); err != nil {
		if err := s.page.Click(ctx, sel.CartLink); err != nil {
			return &FlowError{Kind: KindCheckoutFailed, Err: err}
		}
		if err := s.page.Click(ctx, sel.CheckoutButton); err != nil {
			return &FlowError{Kind: KindCheckoutFailed, Err: err}
		}
	}

	deadline := time.Now().Add(f.cfg.Timeouts.Navigation)
	for {
		current, err := s.page.CurrentURL(ctx)
		if err == nil && strings.Contains(current, sel.CheckoutURLPattern) {
			return nil
		}
		if time.Now().After(deadline) {
			return flowErr(KindCheckoutFailed, "checkout page did not appear within %s", f.cfg.Timeouts.Navigation)
		}
		if !f.sleep(ctx, s, 200*time.Millisecond) {
			return flowErr(KindCanceled, "canceled while opening checkout")
		}
	}
}

// waitOutQueue blocks while the store's waiting-room marker is on the
// page. This is the one state permitted to exceed ordinary step
// timeouts; the ceiling is Timeouts.QueueWait.
func (f *Flow) waitOutQueue(ctx context.Context, s *Session) error {
	marker := f.cfg.Selectors.QueueMarker

	queued, err := s.page.BodyContains(ctx, marker)
	if err != nil {
		return &FlowError{Kind: KindQueueTimeout, Err: err}
	}
	if !queued {
		return nil
	}

	s.setState(StateQueued)
	f.notifier.Notify("Entered checkout queue",
		fmt.Sprintf("%s is in the store's waiting room", s.AccountID),
		notify.SeverityInfo)

	deadline := time.Now().Add(f.cfg.Timeouts.QueueWait)
	for {
		if time.Now().After(deadline) {
			return flowErr(KindQueueTimeout, "still queued after %s", f.cfg.Timeouts.QueueWait)
		}
		if !f.sleep(ctx, s, f.queuePollStep) {
			return flowErr(KindCanceled, "canceled while queued")
		}

		queued, err := s.page.BodyContains(ctx, marker)
		if err != nil {
			return &FlowError{Kind: KindQueueTimeout, Err: err}
		}
		if !queued {
			f.notifier.Notify("Left checkout queue",
				fmt.Sprintf("%s reached the checkout form", s.AccountID),
				notify.SeverityInfo)
			return nil
		}
	}
}

// fillForm populates delivery, shipping method, billing and card
// fields from the session's payment profile. Missing required delivery
// fields abort before anything is typed.
func (f *Flow) fillForm(ctx context.Context, s *Session) error {
	if s.canceled() {
		return flowErr(KindCanceled, "canceled before form fill")
	}
	s.setState(StateFillForm)

	profile := s.profile
	if profile == nil {
		return flowErr(KindIncompleteProfile, "account %s has no payment profile", s.AccountID)
	}
	if missing := profile.MissingDeliveryFields(); len(missing) > 0 {
		return flowErr(KindIncompleteProfile,
			"account %s payment profile missing required fields: %s", s.AccountID, strings.Join(missing, ", "))
	}

	sel := f.cfg.Selectors
	if err := f.fillDelivery(ctx, s, sel, profile.Delivery, deliverySelectors(sel)); err != nil {
		return err
	}

	// First available shipping method.
	if err := s.page.Click(ctx, sel.ShippingMethod); err != nil {
		return &FlowError{Kind: KindElementNotFound, Err: err}
	}

	if !profile.UseSameAddress && profile.Billing != nil {
		if err := s.page.Click(ctx, sel.BillingToggle); err != nil {
			return &FlowError{Kind: KindElementNotFound, Err: err}
		}
		if err := f.fillDelivery(ctx, s, sel, *profile.Billing, billingSelectors(sel)); err != nil {
			return err
		}
	}

	// Credit card payment method, then the card itself.
	if err := s.page.Click(ctx, sel.PaymentMethod); err != nil {
		return &FlowError{Kind: KindElementNotFound, Err: err}
	}

	card := profile.Card
	expiry := card.ExpMonth + "/" + card.ExpYear
	for _, field := range []struct {
		selector string
		value    string
	}{
		{sel.CardNumber, card.Number},
		{sel.CardHolder, card.Holder},
		{sel.CardExpiry, expiry},
		{sel.CardCVV, card.CVV},
	} {
		if err := s.page.Type(ctx, field.selector, field.value); err != nil {
			return &FlowError{Kind: KindElementNotFound, Err: err}
		}
	}

	return nil
}

type fieldBinding struct {
	selector string
	value    func(store.Delivery) string
	required bool
	isSelect bool
}

func deliverySelectors(sel config.Selectors) []fieldBinding {
	return []fieldBinding{
		{sel.ShippingFirstName, func(d store.Delivery) string { return d.FirstName }, true, false},
		{sel.ShippingLastName, func(d store.Delivery) string { return d.LastName }, true, false},
		{sel.ShippingAddress1, func(d store.Delivery) string { return d.Address1 }, true, false},
		{sel.ShippingAddress2, func(d store.Delivery) string { return d.Address2 }, false, false},
		{sel.ShippingCity, func(d store.Delivery) string { return d.City }, true, false},
		{sel.ShippingProvince, func(d store.Delivery) string { return d.Province }, false, true},
		{sel.ShippingZip, func(d store.Delivery) string { return d.PostalCode }, true, false},
		{sel.ShippingPhone, func(d store.Delivery) string { return d.Phone }, false, false},
		{sel.ShippingCountry, func(d store.Delivery) string { return d.Country }, true, true},
	}
}

func billingSelectors(sel config.Selectors) []fieldBinding {
	return []fieldBinding{
		{sel.BillingFirstName, func(d store.Delivery) string { return d.FirstName }, true, false},
		{sel.BillingLastName, func(d store.Delivery) string { return d.LastName }, true, false},
		{sel.BillingAddress1, func(d store.Delivery) string { return d.Address1 }, true, false},
		{sel.BillingCity, func(d store.Delivery) string { return d.City }, true, false},
		{sel.BillingZip, func(d store.Delivery) string { return d.PostalCode }, true, false},
	}
}

func (f *Flow) fillDelivery(ctx context.Context, s *Session, sel config.Selectors, d store.Delivery, bindings []fieldBinding) error {
	for _, b := range bindings {
		value := b.value(d)
		if value == "" && !b.required {
			continue
		}
		var err error
		if b.isSelect {
			err = s.page.Select(ctx, b.selector, value)
		} else {
			err = s.page.Type(ctx, b.selector, value)
		}
		if err != nil {
			return &FlowError{Kind: KindElementNotFound, Err: err}
		}
	}
	return nil
}

// submit triggers the final payment action and confirms by the order
// summary appearing within the bounded wait.
func (f *Flow) submit(ctx context.Context, s *Session) error {
	if s.canceled() {
		return flowErr(KindCanceled, "canceled before submit")
	}
	s.setState(StateSubmit)
	sel := f.cfg.Selectors

	if err := s.page.Click(ctx, sel.ContinueButton); err != nil {
		return &FlowError{Kind: KindSubmitFailed, Err: err}
	}

	if err := s.page.WaitVisible(ctx, sel.OrderSummary, f.cfg.Timeouts.ElementWait); err != nil {
		return flowErr(KindSubmitFailed,
			"order summary did not appear within %s", f.cfg.Timeouts.ElementWait)
	}
	return nil
}
