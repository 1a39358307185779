// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PAGEGROUNDER_BROWSER_HEADLESS.
const EnvPrefix = "PAGEGROUNDER"

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Grounding GroundingConfig `mapstructure:"grounding" yaml:"grounding"`
	Observer  ObserverConfig  `mapstructure:"observer" yaml:"observer"`
	Input     InputConfig     `mapstructure:"input" yaml:"input"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance and its tabs.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ViewportSize returns the configured width and height, or zeros when unset.
func (b BrowserConfig) ViewportSize() (int64, int64) {
	return int64(b.Viewport["width"]), int64(b.Viewport["height"])
}

// GroundingConfig tunes element detection and description.
type GroundingConfig struct {
	// Selector replaces the default interactive-element selector when set.
	Selector          string   `mapstructure:"selector" yaml:"selector"`
	ZeroAreaAllowlist []string `mapstructure:"zero_area_allowlist" yaml:"zero_area_allowlist"`
	HrefMaxLength     int      `mapstructure:"href_max_length" yaml:"href_max_length"`
}

// ObserverConfig bounds the stability wait after an action.
type ObserverConfig struct {
	MaxTimeout  time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// InputConfig tunes synthetic input dispatch.
type InputConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagegrounder")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 720})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Grounding --
	v.SetDefault("grounding.selector", "")
	v.SetDefault("grounding.zero_area_allowlist", []string{"textarea.monaco-mouse-cursor-text"})
	v.SetDefault("grounding.href_max_length", 100)

	// -- Observer --
	v.SetDefault("observer.max_timeout", "5s")
	v.SetDefault("observer.quiet_period", "3s")

	// -- Input --
	v.SetDefault("input.settle_delay", "300ms")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Observer.MaxTimeout <= 0 {
		return fmt.Errorf("observer.max_timeout must be a positive duration")
	}
	if c.Observer.QuietPeriod <= 0 {
		return fmt.Errorf("observer.quiet_period must be a positive duration")
	}
	if c.Input.SettleDelay < 0 {
		return fmt.Errorf("input.settle_delay must not be negative")
	}
	if c.Grounding.HrefMaxLength < 0 {
		return fmt.Errorf("grounding.href_max_length must not be negative")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if w, h := c.Browser.ViewportSize(); w < 0 || h < 0 {
		return fmt.Errorf("browser.viewport dimensions must not be negative")
	}
	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be 'console' or 'json', got %q", c.Logger.Format)
	}
	return nil
}

// Load reads cfgFile, or ./config.yaml then ~/.pagegrounder/config.yaml when
// cfgFile is empty, layering PAGEGROUNDER_* environment variables on top of
// the defaults. A missing default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pagegrounder"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return NewConfigFromViper(v)
}
