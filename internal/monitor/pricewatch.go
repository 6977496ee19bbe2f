package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"snapcart/internal/browser"
	"snapcart/internal/config"
	"snapcart/internal/notify"
	"snapcart/internal/stats"
)

// PriceWatcher tracks the product price across polls. It persists a
// point whenever the price changes and raises below/above threshold
// alerts. One watcher serves all sessions of a run; the price is a
// property of the product, not of an account.
type PriceWatcher struct {
	cfg      *config.Config
	log      stats.PriceLog
	notifier notify.Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	seen      bool
	lastPrice float64
	// Threshold alerts fire once per crossing and re-arm when the
	// price moves back across the line.
	belowFired bool
	aboveFired bool
}

func NewPriceWatcher(cfg *config.Config, log stats.PriceLog, notifier notify.Notifier, logger *slog.Logger) *PriceWatcher {
	if log == nil {
		log = stats.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceWatcher{
		cfg:      cfg,
		log:      log,
		notifier: notifier,
		logger:   logger,
	}
}

// Observe consumes one availability probe. Pages without a readable
// price are ignored.
func (w *PriceWatcher) Observe(state browser.ProductState) {
	if state.Price <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	changed := !w.seen || state.Price != w.lastPrice
	previous := w.lastPrice
	w.seen = true
	w.lastPrice = state.Price

	if changed {
		if err := w.log.RecordPrice(stats.PricePoint{
			ID:          ulid.Make().String(),
			Timestamp:   time.Now(),
			ProductURL:  w.cfg.TargetURL,
			ProductName: state.Name,
			Price:       state.Price,
		}); err != nil {
			w.logger.Error("price point write failed", "error", err)
		}
		if previous > 0 {
			w.logger.Info("price changed",
				"name", state.Name, "from", previous, "to", state.Price)
		}
	}

	if !w.cfg.PriceAlert.Enabled {
		return
	}
	w.checkThresholds(state)
}

// checkThresholds runs under w.mu.
func (w *PriceWatcher) checkThresholds(state browser.ProductState) {
	alert := w.cfg.PriceAlert

	if alert.Below > 0 {
		if state.Price <= alert.Below {
			if !w.belowFired {
				w.belowFired = true
				w.notifier.Notify("Price drop",
					fmt.Sprintf("%s is $%.2f, at or under your $%.2f alert", state.Name, state.Price, alert.Below),
					notify.SeveritySuccess)
			}
		} else {
			w.belowFired = false
		}
	}

	if alert.Above > 0 {
		if state.Price >= alert.Above {
			if !w.aboveFired {
				w.aboveFired = true
				w.notifier.Notify("Price increase",
					fmt.Sprintf("%s is $%.2f, at or over your $%.2f alert", state.Name, state.Price, alert.Above),
					notify.SeverityWarning)
			}
		} else {
			w.aboveFired = false
		}
	}
}
