package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.TargetURL = "https://shop.example/products/thing"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with target url", func(*Config) {}, false},
		{"missing target url", func(c *Config) { c.TargetURL = "" }, true},
		{"relative target url", func(c *Config) { c.TargetURL = "/products/thing" }, true},
		{"garbage target url", func(c *Config) { c.TargetURL = "://nope" }, true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"negative max retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"zero max retries is fine", func(c *Config) { c.MaxRetries = 0 }, false},
		{"zero account limit", func(c *Config) { c.PurchaseLimit.SingleAccountLimit = 0 }, true},
		{"zero quantity", func(c *Config) { c.PurchaseLimit.QuantityPerOrder = 0 }, true},
		{"price limit without max price", func(c *Config) { c.PriceLimit.Enabled = true }, true},
		{"price limit with max price", func(c *Config) {
			c.PriceLimit.Enabled = true
			c.PriceLimit.MaxPrice = 99.99
		}, false},
		{"price alert without thresholds", func(c *Config) { c.PriceAlert.Enabled = true }, true},
		{"price alert with below", func(c *Config) {
			c.PriceAlert.Enabled = true
			c.PriceAlert.Below = 60
		}, false},
		{"price alert with above only", func(c *Config) {
			c.PriceAlert.Enabled = true
			c.PriceAlert.Above = 120
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	// The file now exists and round-trips to the same defaults.
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.AutoRetry)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 20*time.Minute, cfg.Timeouts.QueueWait)
	assert.Equal(t, `button[name="add"]`, cfg.Selectors.AddToCartButton)
	assert.Equal(t, "in line to check out", cfg.Selectors.QueueMarker)
}

func TestLoadReadsFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	seed := Default()
	seed.TargetURL = "https://shop.example/products/thing"
	seed.PollInterval = 2 * time.Second
	seed.MultiAccount = true
	seed.PriceLimit = PriceLimit{Enabled: true, MaxPrice: 150}
	require.NoError(t, seed.Save(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/products/thing", cfg.TargetURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.MultiAccount)
	assert.Equal(t, 150.0, cfg.PriceLimit.MaxPrice)
	// Values absent from the file keep their defaults.
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestEffectiveRetryDelay(t *testing.T) {
	tests := []struct {
		name         string
		retryDelay   time.Duration
		pollInterval time.Duration
		want         time.Duration
	}{
		{"explicit delay wins", 3 * time.Second, 5 * time.Second, 3 * time.Second},
		{"defaults to one second", 0, 5 * time.Second, time.Second},
		{"never exceeds the poll interval", 0, 500 * time.Millisecond, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.RetryDelay = tt.retryDelay
			cfg.PollInterval = tt.pollInterval
			assert.Equal(t, tt.want, cfg.EffectiveRetryDelay())
		})
	}
}
