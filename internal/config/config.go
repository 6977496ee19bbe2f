// Package config holds the run configuration for the monitor engine.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config describes a single monitoring run. It is immutable once a run
// has started; Validate is called before any session is created.
type Config struct {
	TargetURL    string        `yaml:"target_url" mapstructure:"target_url"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	AutoRetry  bool          `yaml:"auto_retry" mapstructure:"auto_retry"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	MultiAccount bool `yaml:"multi_account" mapstructure:"multi_account"`
	AutoPurchase bool `yaml:"auto_purchase" mapstructure:"auto_purchase"`

	PriceLimit    PriceLimit    `yaml:"price_limit" mapstructure:"price_limit"`
	PriceAlert    PriceAlert    `yaml:"price_alert" mapstructure:"price_alert"`
	PurchaseLimit PurchaseLimit `yaml:"purchase_limit" mapstructure:"purchase_limit"`
	Timeouts      Timeouts      `yaml:"timeouts" mapstructure:"timeouts"`

	Headless bool   `yaml:"headless" mapstructure:"headless"`
	DataDir  string `yaml:"data_dir" mapstructure:"data_dir"`

	// WarmUp runs a short burst of synthetic mouse/scroll activity on the
	// page before the first poll.
	WarmUp bool `yaml:"warm_up" mapstructure:"warm_up"`

	UseProxies bool `yaml:"use_proxies" mapstructure:"use_proxies"`

	Selectors Selectors `yaml:"selectors" mapstructure:"selectors"`
}

type PriceLimit struct {
	Enabled  bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxPrice float64 `yaml:"max_price" mapstructure:"max_price"`
}

// PriceAlert notifies when the observed price crosses a threshold.
// Independent of PriceLimit: alerts inform the operator, the limit
// gates the purchase flow.
type PriceAlert struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Below fires when the price drops to or under it. Zero disables.
	Below float64 `yaml:"below" mapstructure:"below"`
	// Above fires when the price rises to or over it. Zero disables.
	Above float64 `yaml:"above" mapstructure:"above"`
}

type PurchaseLimit struct {
	SingleAccountLimit int `yaml:"single_account_limit" mapstructure:"single_account_limit"`
	QuantityPerOrder   int `yaml:"quantity_per_order" mapstructure:"quantity_per_order"`
}

type Timeouts struct {
	ElementWait time.Duration `yaml:"element_wait" mapstructure:"element_wait"`
	Navigation  time.Duration `yaml:"navigation" mapstructure:"navigation"`
	PageLoad    time.Duration `yaml:"page_load" mapstructure:"page_load"`
	// QueueWait is the one ceiling allowed to exceed ordinary step
	// timeouts: a store-imposed waiting room can hold a session for
	// tens of minutes.
	QueueWait time.Duration `yaml:"queue_wait" mapstructure:"queue_wait"`
}

// Selectors carries the concrete DOM selectors the browser adapter uses.
// The orchestration core never sees these; changing a store layout is a
// config edit, not a code change.
type Selectors struct {
	AddToCartButton string `yaml:"add_to_cart_button" mapstructure:"add_to_cart_button"`
	QuantityInput   string `yaml:"quantity_input" mapstructure:"quantity_input"`
	QuantityUp      string `yaml:"quantity_up" mapstructure:"quantity_up"`
	CartNotice      string `yaml:"cart_notice" mapstructure:"cart_notice"`
	SideCart        string `yaml:"side_cart" mapstructure:"side_cart"`
	CartLink        string `yaml:"cart_link" mapstructure:"cart_link"`
	CheckoutButton  string `yaml:"checkout_button" mapstructure:"checkout_button"`
	SoldOutMarker   string `yaml:"sold_out_marker" mapstructure:"sold_out_marker"`
	OutOfStock      string `yaml:"out_of_stock" mapstructure:"out_of_stock"`
	StockCount      string `yaml:"stock_count" mapstructure:"stock_count"`
	ProductTitle    string `yaml:"product_title" mapstructure:"product_title"`
	ProductPrice    string `yaml:"product_price" mapstructure:"product_price"`
	CaptchaFrame    string `yaml:"captcha_frame" mapstructure:"captcha_frame"`

	ShippingFirstName string `yaml:"shipping_first_name" mapstructure:"shipping_first_name"`
	ShippingLastName  string `yaml:"shipping_last_name" mapstructure:"shipping_last_name"`
	ShippingAddress1  string `yaml:"shipping_address1" mapstructure:"shipping_address1"`
	ShippingAddress2  string `yaml:"shipping_address2" mapstructure:"shipping_address2"`
	ShippingCity      string `yaml:"shipping_city" mapstructure:"shipping_city"`
	ShippingProvince  string `yaml:"shipping_province" mapstructure:"shipping_province"`
	ShippingZip       string `yaml:"shipping_zip" mapstructure:"shipping_zip"`
	ShippingPhone     string `yaml:"shipping_phone" mapstructure:"shipping_phone"`
	ShippingCountry   string `yaml:"shipping_country" mapstructure:"shipping_country"`

	BillingFirstName string `yaml:"billing_first_name" mapstructure:"billing_first_name"`
	BillingLastName  string `yaml:"billing_last_name" mapstructure:"billing_last_name"`
	BillingAddress1  string `yaml:"billing_address1" mapstructure:"billing_address1"`
	BillingCity      string `yaml:"billing_city" mapstructure:"billing_city"`
	BillingZip       string `yaml:"billing_zip" mapstructure:"billing_zip"`
	BillingToggle    string `yaml:"billing_toggle" mapstructure:"billing_toggle"`

	ShippingMethod string `yaml:"shipping_method" mapstructure:"shipping_method"`
	PaymentMethod  string `yaml:"payment_method" mapstructure:"payment_method"`
	CardNumber     string `yaml:"card_number" mapstructure:"card_number"`
	CardHolder     string `yaml:"card_holder" mapstructure:"card_holder"`
	CardExpiry     string `yaml:"card_expiry" mapstructure:"card_expiry"`
	CardCVV        string `yaml:"card_cvv" mapstructure:"card_cvv"`

	ContinueButton string `yaml:"continue_button" mapstructure:"continue_button"`
	OrderSummary   string `yaml:"order_summary" mapstructure:"order_summary"`

	// QueueMarker is matched against page text, not a selector. Both
	// historical phrasings of the waiting-room banner contain it.
	QueueMarker string `yaml:"queue_marker" mapstructure:"queue_marker"`

	CheckoutURLPattern string `yaml:"checkout_url_pattern" mapstructure:"checkout_url_pattern"`
}

func Default() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		AutoRetry:    true,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		PurchaseLimit: PurchaseLimit{
			SingleAccountLimit: 1,
			QuantityPerOrder:   1,
		},
		Timeouts: Timeouts{
			ElementWait: 5 * time.Second,
			Navigation:  30 * time.Second,
			PageLoad:    10 * time.Second,
			QueueWait:   20 * time.Minute,
		},
		Headless: false,
		DataDir:  defaultDataDir(),
		WarmUp:   true,
		Selectors: Selectors{
			AddToCartButton: `button[name="add"]`,
			QuantityInput:   `input[name="quantity"]`,
			QuantityUp:      `.quantity-up, button[name="plus"]`,
			CartNotice:      `.cart-notification`,
			SideCart:        `.side-cart, .cart-drawer`,
			CartLink:        `.cart-link`,
			CheckoutButton:  `button[name="checkout"]`,
			SoldOutMarker:   `.sold-out-label, .sold-out`,
			OutOfStock:      `.out-of-stock`,
			StockCount:      `.stock-count, .inventory-quantity`,
			ProductTitle:    `.product-title, .product-name, h1`,
			ProductPrice:    `.product-price, .price`,
			CaptchaFrame:    `iframe[src*="captcha"], .g-recaptcha`,

			ShippingFirstName: `#checkout_shipping_address_first_name`,
			ShippingLastName:  `#checkout_shipping_address_last_name`,
			ShippingAddress1:  `#checkout_shipping_address_address1`,
			ShippingAddress2:  `#checkout_shipping_address_address2`,
			ShippingCity:      `#checkout_shipping_address_city`,
			ShippingProvince:  `#checkout_shipping_address_province`,
			ShippingZip:       `#checkout_shipping_address_zip`,
			ShippingPhone:     `#checkout_shipping_address_phone`,
			ShippingCountry:   `#checkout_shipping_address_country`,

			BillingFirstName: `#checkout_billing_address_first_name`,
			BillingLastName:  `#checkout_billing_address_last_name`,
			BillingAddress1:  `#checkout_billing_address_address1`,
			BillingCity:      `#checkout_billing_address_city`,
			BillingZip:       `#checkout_billing_address_zip`,
			BillingToggle:    `#checkout_different_billing_address_true`,

			ShippingMethod: `input[name="checkout[shipping_rate][id]"]`,
			PaymentMethod:  `input[name="checkout[payment_gateway]"]`,
			CardNumber:     `#number`,
			CardHolder:     `#name`,
			CardExpiry:     `#expiry`,
			CardCVV:        `#verification_value`,

			ContinueButton: `#continue_button`,
			OrderSummary:   `.order-summary__section--payment-lines`,

			QueueMarker: "in line to check out",

			CheckoutURLPattern: "/checkouts/",
		},
	}
}

// Load reads the config file at path, creating it with defaults when it
// does not exist. Environment variables prefixed SNAPCART_ override file
// values (SNAPCART_TARGET_URL, SNAPCART_POLL_INTERVAL, ...).
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("snapcart")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configs that must not start a run. Config errors are
// fatal: no session is created when any check fails.
func (c *Config) Validate() error {
	if c.TargetURL == "" {
		return errors.New("target_url is required")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target_url %q is not a valid absolute URL", c.TargetURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.PurchaseLimit.SingleAccountLimit < 1 {
		return fmt.Errorf("single_account_limit must be at least 1, got %d", c.PurchaseLimit.SingleAccountLimit)
	}
	if c.PurchaseLimit.QuantityPerOrder < 1 {
		return fmt.Errorf("quantity_per_order must be at least 1, got %d", c.PurchaseLimit.QuantityPerOrder)
	}
	if c.PriceLimit.Enabled && c.PriceLimit.MaxPrice <= 0 {
		return fmt.Errorf("price limit enabled but max_price is %v", c.PriceLimit.MaxPrice)
	}
	if c.PriceAlert.Enabled && c.PriceAlert.Below <= 0 && c.PriceAlert.Above <= 0 {
		return errors.New("price alert enabled but neither below nor above is set")
	}
	return nil
}

// EffectiveRetryDelay falls back to min(pollInterval, 1s) when no retry
// delay is configured, matching the monitor's historical behavior.
func (c *Config) EffectiveRetryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	if c.PollInterval < time.Second {
		return c.PollInterval
	}
	return time.Second
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./snapcart-data"
	}
	return filepath.Join(home, ".snapcart")
}
