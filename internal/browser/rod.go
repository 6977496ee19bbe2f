package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/oklog/ulid/v2"

	"snapcart/internal/config"
)

// RodBrowser launches one Chrome instance per page. A dedicated
// process per session keeps cookies, storage and proxy settings fully
// isolated, the way the engine requires.
type RodBrowser struct {
	cfg    *config.Config
	logger *slog.Logger

	chromePath string
	chromeOK   bool
}

func NewRodBrowser(cfg *config.Config, logger *slog.Logger) *RodBrowser {
	if logger == nil {
		logger = slog.Default()
	}

	// Prefer system Chrome: avoids the Chromium download and the
	// permission problems that come with it.
	path, ok := launcher.LookPath()
	if ok {
		logger.Debug("using system chrome", "path", path)
	} else {
		logger.Debug("system chrome not found, rod will download chromium")
	}

	return &RodBrowser{
		cfg:        cfg,
		logger:     logger,
		chromePath: path,
		chromeOK:   ok,
	}
}

func (b *RodBrowser) NewPage(ctx context.Context, proxyURL string) (Page, error) {
	id := ulid.Make().String()

	// Disable leakless mode on Windows to prevent deadlock.
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	l := launcher.New().
		Leakless(useLeakless).
		Headless(b.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", "en-US,en")

	profileDir := filepath.Join(b.cfg.DataDir, "profiles", id)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create browser profile dir: %w", err)
	}
	l = l.UserDataDir(profileDir)

	if b.chromeOK {
		l = l.Bin(b.chromePath)
	}

	var proxyUser, proxyPass string
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if u.User != nil {
			proxyUser = u.User.Username()
			proxyPass, _ = u.User.Password()
			u.User = nil
		}
		l = l.Proxy(u.Host)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	if proxyUser != "" {
		go br.MustHandleAuth(proxyUser, proxyPass)()
	}

	page, err := stealth.Page(br)
	if err != nil {
		br.Close()
		l.Cleanup()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	b.logger.Debug("browser page created", "id", id, "proxy", proxyURL != "")

	return &rodPage{
		id:          id,
		launcher:    l,
		browser:     br,
		page:        page,
		selectors:   b.cfg.Selectors,
		elemTimeout: b.cfg.Timeouts.ElementWait,
		logger:      b.logger.With("page", id),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close is a no-op: every page owns its browser process and releases
// it in Page.Close.
func (b *RodBrowser) Close() error { return nil }

type rodPage struct {
	id          string
	launcher    *launcher.Launcher
	browser     *rod.Browser
	page        *rod.Page
	selectors   config.Selectors
	elemTimeout time.Duration
	logger      *slog.Logger
	rand        *rand.Rand
}

// element looks an element up with the configured wait bound so a
// missing selector fails instead of blocking forever.
func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	timeout := p.elemTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return p.page.Context(ctx).Timeout(timeout).Element(selector)
}

func (p *rodPage) Navigate(ctx context.Context, target string, timeout time.Duration) (NavigateResult, error) {
	page := p.page.Context(ctx).Timeout(timeout)

	if err := page.Navigate(target); err != nil {
		return NavigateResult{}, fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return NavigateResult{}, fmt.Errorf("wait load %s: %w", target, err)
	}

	result := NavigateResult{Status: 200, FinalURL: target}

	// The CDP layer does not surface the status of the main document
	// directly; the navigation timing entry does.
	status, err := page.Eval(`() => {
		return window.performance?.getEntriesByType?.('navigation')?.[0]?.responseStatus || 200;
	}`)
	if err == nil {
		if s := status.Value.Int(); s != 0 {
			result.Status = s
		}
	}

	if info, err := page.Info(); err == nil {
		result.FinalURL = info.URL
	}

	return result, nil
}

func (p *rodPage) ProductState(ctx context.Context) (ProductState, error) {
	sel := p.selectors
	js := fmt.Sprintf(`() => {
		const cart = document.querySelector(%q);
		const cartControl = !!cart && !cart.disabled &&
			!cart.classList.contains('disabled') &&
			getComputedStyle(cart).display !== 'none' &&
			getComputedStyle(cart).visibility !== 'hidden';

		const soldOut = !!document.querySelector(%q) || !!document.querySelector(%q);

		const stockEl = document.querySelector(%q);
		let stock = null;
		if (stockEl) {
			const n = parseInt(stockEl.textContent || '', 10);
			if (!isNaN(n)) stock = n;
		}

		const titleEl = document.querySelector(%q);
		const priceEl = document.querySelector(%q);
		const price = priceEl ? parseFloat((priceEl.textContent || '').replace(/[^\d.]/g, '')) || 0 : 0;

		const captcha = !!document.querySelector(%q);

		return {
			cartControl: cartControl,
			soldOut: soldOut,
			stock: stock,
			name: titleEl ? (titleEl.textContent || '').trim() : '',
			price: price,
			captcha: captcha
		};
	}`,
		sel.AddToCartButton,
		sel.SoldOutMarker, sel.OutOfStock,
		sel.StockCount,
		sel.ProductTitle,
		sel.ProductPrice,
		sel.CaptchaFrame,
	)

	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return ProductState{}, fmt.Errorf("evaluate product state: %w", err)
	}

	state := ProductState{
		CartControl: res.Value.Get("cartControl").Bool(),
		SoldOut:     res.Value.Get("soldOut").Bool(),
		Name:        res.Value.Get("name").Str(),
		Price:       res.Value.Get("price").Num(),
		Captcha:     res.Value.Get("captcha").Bool(),
	}
	if stock := res.Value.Get("stock"); !stock.Nil() {
		n := stock.Int()
		state.StockCount = &n
	}
	return state, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)

	el, err := page.Element(selector)
	if err != nil {
		return waitErr(selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return waitErr(selector, err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return waitErr(selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return waitErr(selector, err)
	}
	// Selected text is replaced by the first keystroke.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) SetValue(ctx context.Context, selector, value string) error {
	res, err := p.page.Context(ctx).Eval(`(sel, val) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.value = val;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}`, selector, value)
	if err != nil {
		return fmt.Errorf("set value on %s: %w", selector, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
	}
	return nil
}

func (p *rodPage) Select(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return waitErr(selector, err)
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("select %q in %s: %w", value, selector, err)
	}
	return nil
}

func (p *rodPage) BodyContains(ctx context.Context, marker string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(`(marker) => {
		return !!document.body && (document.body.innerText || '').includes(marker);
	}`, marker)
	if err != nil {
		return false, fmt.Errorf("scan page text: %w", err)
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) CurrentURL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// WarmUp dispatches a short burst of mouse movement and scrolling so
// the session does not look like a page that loaded and never moved.
func (p *rodPage) WarmUp(ctx context.Context) {
	page := p.page.Context(ctx)

	for round := 0; round < 2; round++ {
		movements := 2 + p.rand.Intn(3)
		for i := 0; i < movements; i++ {
			x := p.rand.Intn(1200) + 100
			y := p.rand.Intn(700) + 100

			page.Eval(fmt.Sprintf(`() => {
				document.dispatchEvent(new MouseEvent('mousemove', {
					view: window, bubbles: true, cancelable: true,
					clientX: %d, clientY: %d
				}));
			}`, x, y))

			time.Sleep(time.Duration(5+p.rand.Intn(10)) * time.Millisecond)
		}

		if round == 0 {
			scroll := (p.rand.Intn(3) - 1) * (100 + p.rand.Intn(150))
			page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, scroll))
		}

		time.Sleep(time.Duration(30+p.rand.Intn(50)) * time.Millisecond)
	}
}

func (p *rodPage) Close() error {
	var firstErr error
	if err := p.page.Close(); err != nil {
		firstErr = err
	}
	if err := p.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.launcher.Cleanup()
	p.logger.Debug("browser page closed")
	return firstErr
}

func waitErr(selector string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
	}
	return fmt.Errorf("element %s: %w", selector, cause)
}
