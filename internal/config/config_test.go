// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "pagegrounder", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	w, h := cfg.Browser.ViewportSize()
	assert.Equal(t, int64(1280), w)
	assert.Equal(t, int64(720), h)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Observer.MaxTimeout)
	assert.Equal(t, 3*time.Second, cfg.Observer.QuietPeriod)
	assert.Equal(t, 300*time.Millisecond, cfg.Input.SettleDelay)
	assert.Equal(t, 100, cfg.Grounding.HrefMaxLength)
	assert.Equal(t, []string{"textarea.monaco-mouse-cursor-text"}, cfg.Grounding.ZeroAreaAllowlist)
	assert.Empty(t, cfg.Grounding.Selector)

	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max timeout", func(c *Config) { c.Observer.MaxTimeout = 0 }, "observer.max_timeout must be a positive duration"},
		{"zero quiet period", func(c *Config) { c.Observer.QuietPeriod = 0 }, "observer.quiet_period must be a positive duration"},
		{"negative settle delay", func(c *Config) { c.Input.SettleDelay = -time.Millisecond }, "input.settle_delay must not be negative"},
		{"negative href length", func(c *Config) { c.Grounding.HrefMaxLength = -1 }, "grounding.href_max_length must not be negative"},
		{"zero navigation timeout", func(c *Config) { c.Browser.NavigationTimeout = 0 }, "browser.navigation_timeout must be a positive duration"},
		{"negative viewport", func(c *Config) { c.Browser.Viewport = map[string]int{"width": -1} }, "browser.viewport dimensions must not be negative"},
		{"unknown log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format must be 'console' or 'json'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("zero settle delay is allowed", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Input.SettleDelay = 0
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: false
  args: ["window-size=800,600"]
grounding:
  selector: "button, a"
  zero_area_allowlist: []
observer:
  quiet_period: 250ms
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, []string{"window-size=800,600"}, cfg.Browser.Args)
		assert.Equal(t, "button, a", cfg.Grounding.Selector)
		assert.Empty(t, cfg.Grounding.ZeroAreaAllowlist)
		assert.Equal(t, 250*time.Millisecond, cfg.Observer.QuietPeriod)
		// Untouched sections keep their defaults.
		assert.Equal(t, 5*time.Second, cfg.Observer.MaxTimeout)
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("observer.max_timeout", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "observer.max_timeout")
	})
}

func TestLoad(t *testing.T) {
	t.Run("Explicit File With Env Override", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "grounder.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\ninput:\n  settle_delay: 50ms\n"), 0o600))
		t.Setenv("PAGEGROUNDER_INPUT_SETTLE_DELAY", "10ms")

		cfg, err := Load(viper.New(), path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, 10*time.Millisecond, cfg.Input.SettleDelay)
	})

	t.Run("Missing Explicit File", func(t *testing.T) {
		_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("No Default File Falls Back To Defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		assert.Equal(t, NewDefaultConfig(), cfg)
	})
}
