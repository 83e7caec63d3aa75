// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Form() FormConfig
	LLM() LLMConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)
	SetBrowserDebug(bool)

	// Network Setters
	SetNetworkNavigationTimeout(d time.Duration)
	SetNetworkPostLoadWait(d time.Duration)

	// Form Setters
	SetFormMaxAttempts(int)
	SetFormSnapshotDir(string)

	// LLM Setters
	SetLLMEnabled(bool)

	// Database Setters
	SetDatabaseURL(string)
}

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	database DatabaseConfig `mapstructure:"database" yaml:"database"`
	browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	form     FormConfig     `mapstructure:"form" yaml:"form"`
	llm      LLMConfig      `mapstructure:"llm" yaml:"llm"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Database() DatabaseConfig { return c.database }
func (c *Config) Browser() BrowserConfig   { return c.browser }
func (c *Config) Network() NetworkConfig   { return c.network }
func (c *Config) Form() FormConfig         { return c.form }
func (c *Config) LLM() LLMConfig           { return c.llm }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.browser.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.browser.IgnoreTLSErrors = b }
func (c *Config) SetBrowserDebug(b bool)           { c.browser.Debug = b }

func (c *Config) SetNetworkNavigationTimeout(d time.Duration) {
	c.network.NavigationTimeout = d
}
func (c *Config) SetNetworkPostLoadWait(d time.Duration) { c.network.PostLoadWait = d }

func (c *Config) SetFormMaxAttempts(n int)      { c.form.MaxAttempts = n }
func (c *Config) SetFormSnapshotDir(dir string) { c.form.SnapshotDir = dir }

func (c *Config) SetLLMEnabled(b bool) { c.llm.Enabled = b }

func (c *Config) SetDatabaseURL(url string) { c.database.URL = url }

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

// DatabaseConfig holds the submission history store connection details. An
// empty URL disables history recording entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes the network behavior of the application.
type NetworkConfig struct {
	Timeout           time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// FormConfig tunes the form filling and recovery workflow.
type FormConfig struct {
	// MaxAttempts bounds the submit/correct loop.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// SnapshotDir receives diagnostic document dumps; empty disables them.
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	// OutcomeTimeout bounds the wait for a post-submit signal.
	OutcomeTimeout time.Duration `mapstructure:"outcome_timeout" yaml:"outcome_timeout"`
}

// LLMConfig configures the natural-language question provider. When disabled
// (or when no API key is available) the engine falls back to templated
// questions.
type LLMConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Model          string        `mapstructure:"model" yaml:"model"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature    float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMin float64       `mapstructure:"requests_per_min" yaml:"requests_per_min"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "formpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")

	// -- Form --
	v.SetDefault("form.max_attempts", 3)
	v.SetDefault("form.snapshot_dir", "")
	v.SetDefault("form.outcome_timeout", "10s")

	// -- LLM --
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.api_timeout", "30s")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.requests_per_min", 30.0)
	v.SetDefault("llm.max_retries", 3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// configData mirrors Config with exported fields so viper's decoder can
// populate it. Config keeps its fields private to force access through the
// Interface getters.
type configData struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Network  NetworkConfig  `mapstructure:"network"`
	Form     FormConfig     `mapstructure:"form"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "FORMPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("database.url", "FORMPILOT_DATABASE_URL")

	var data configData
	if err := v.Unmarshal(&data); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := Config{
		logger:   data.Logger,
		database: data.Database,
		browser:  data.Browser,
		network:  data.Network,
		form:     data.Form,
		llm:      data.LLM,
	}

	// Manually load the key if Unmarshal didn't pick it up.
	if cfg.llm.Enabled && cfg.llm.APIKey == "" {
		for _, env := range []string{"FORMPILOT_LLM_API_KEY", "GEMINI_API_KEY"} {
			if key := os.Getenv(env); key != "" {
				cfg.llm.APIKey = key
				break
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.form.MaxAttempts <= 0 {
		return fmt.Errorf("form.max_attempts must be a positive integer")
	}
	if c.network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if err := c.llm.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if l.Model == "" {
		return fmt.Errorf("model is required when the provider is enabled")
	}
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint is required when the provider is enabled")
	}
	if l.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_min must be greater than 0")
	}
	return nil
}
