package monitor

import "snapcart/internal/browser"

// Signal is the boolean-with-evidence result of an availability probe.
type Signal struct {
	Available bool
	State     browser.ProductState
}

// Evaluate applies the availability rule to a raw product state: an
// enabled cart control, no sold-out marker, and (when the page exposes
// one) a positive stock count must all agree. Any single disqualifier
// marks the product unavailable.
func Evaluate(state browser.ProductState) Signal {
	available := state.CartControl && !state.SoldOut
	if state.StockCount != nil && *state.StockCount <= 0 {
		available = false
	}
	return Signal{Available: available, State: state}
}
