package monitor

import (
	"fmt"
	"strings"

	"snapcart/internal/config"
	"snapcart/internal/store"
)

// Allocator selects which stored accounts participate in a run and
// enforces per-account order caps.
type Allocator struct {
	store store.Store
}

func NewAllocator(st store.Store) *Allocator {
	return &Allocator{store: st}
}

// Select returns the accounts eligible for a run.
//
// Single-account mode picks exactly the default account and fails with
// ErrNoEligibleAccount when none is flagged. Multi-account mode takes
// every account under its order cap that has a payment profile; each
// selected account gets its own concurrent session. When auto-purchase
// is on and any under-cap account lacks a payment profile the whole
// start request fails: partial starts are not permitted.
func (a *Allocator) Select(accounts []store.Account, cfg *config.Config) ([]store.Account, error) {
	if !cfg.MultiAccount {
		for _, acct := range accounts {
			if acct.IsDefault {
				return []store.Account{acct}, nil
			}
		}
		return nil, ErrNoEligibleAccount
	}

	var eligible []store.Account
	var missingProfiles []string

	for _, acct := range accounts {
		if acct.OrderCount >= cfg.PurchaseLimit.SingleAccountLimit {
			continue
		}
		if _, err := a.store.PaymentProfile(acct.ID); err != nil {
			missingProfiles = append(missingProfiles, acct.ID)
			continue
		}
		eligible = append(eligible, acct)
	}

	if cfg.AutoPurchase && len(missingProfiles) > 0 {
		return nil, fmt.Errorf("%w: accounts without payment profiles: %s",
			ErrIncompletePaymentConfiguration, strings.Join(missingProfiles, ", "))
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleAccount
	}
	return eligible, nil
}
