package config

import "time"

// Config provides read-only access to application configuration.
// It abstracts the configuration source (YAML file, defaults) so the
// dispatch and adapter layers never depend on how settings were loaded.
type Config interface {
	// Paths
	InputDir() string  // Directory polled for prompt files
	OutputDir() string // Directory receiving generated output files
	LogDir() string    // Directory for daily log files and the journal
	StatePath() string // Path of the processed-state JSON document

	// Scanning
	FileExtensions() []string // Accepted extensions, e.g. [".txt", ".md"]
	Ordering() string         // "name" or "mtime"
	BatchSize() int           // Max files handled per pass

	// Loop cadence
	IntervalSeconds() int // Sleep between passes in loop mode
	Interval() time.Duration
	Schedule() string // Optional cron expression overriding the interval

	// Backend selection
	AdapterName() string // "echo", "local", "generic_http", or "openai"
	Local() LocalConfig
	GenericHTTP() HTTPConfig
	OpenAI() OpenAIConfig

	// Logging
	LogLevel() string

	// Metadata
	ConfigSource() string // "yaml" or "default"
	SettingPath() string  // Path of the loaded config file, if any
}

// LocalConfig holds resolved settings for the local command adapter.
// Env values have already had ${ENV:VAR} tokens expanded.
type LocalConfig struct {
	Engine          string
	Model           string
	Args            []string
	TimeoutSec      int
	OutputMode      string // "stdout" or "file"
	CommandTemplate string
	Workdir         string
	Env             map[string]string
	OutSuffix       string
}

// Timeout returns the subprocess wall-clock limit as a Duration.
func (c LocalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// HTTPConfig holds resolved settings for the generic HTTP adapter.
// Headers and the body template have already had ${ENV:VAR} tokens
// expanded; only ${PROMPT} remains to be substituted per request.
type HTTPConfig struct {
	URL             string
	Method          string
	TimeoutSec      int
	Headers         map[string]string
	BodyTemplate    string
	ResponsePointer string
	MaxAttempts     int
	BackoffSeconds  float64
	RetryOnStatus   []int
}

// Timeout returns the per-request limit as a Duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// OpenAIConfig holds resolved settings for the OpenAI Responses adapter.
// APIKey is taken from the OPENAI_API_KEY environment variable at load
// time; ExtraHeaders have already had ${ENV:VAR} tokens expanded.
type OpenAIConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	SystemPrompt    string
	ExtraHeaders    map[string]string
	TimeoutSec      int
	MaxAttempts     int
	BackoffSeconds  float64
}

// Timeout returns the per-request limit as a Duration.
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Values carries resolved configuration into NewAppConfig.
type Values struct {
	InputDir  string
	OutputDir string
	LogDir    string
	StatePath string

	FileExtensions []string
	Ordering       string
	BatchSize      int

	IntervalSeconds int
	Schedule        string

	AdapterName string
	Local       LocalConfig
	GenericHTTP HTTPConfig
	OpenAI      OpenAIConfig

	LogLevel string

	ConfigSource string
	SettingPath  string
}

// AppConfig is the concrete implementation of Config.
type AppConfig struct {
	v Values
}

// NewAppConfig builds an AppConfig from resolved settings values.
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{v: v}
}

func (c *AppConfig) InputDir() string  { return c.v.InputDir }
func (c *AppConfig) OutputDir() string { return c.v.OutputDir }
func (c *AppConfig) LogDir() string    { return c.v.LogDir }
func (c *AppConfig) StatePath() string { return c.v.StatePath }

// FileExtensions returns a copy so callers cannot mutate shared config.
func (c *AppConfig) FileExtensions() []string {
	out := make([]string, len(c.v.FileExtensions))
	copy(out, c.v.FileExtensions)
	return out
}

func (c *AppConfig) Ordering() string     { return c.v.Ordering }
func (c *AppConfig) BatchSize() int       { return c.v.BatchSize }
func (c *AppConfig) IntervalSeconds() int { return c.v.IntervalSeconds }

func (c *AppConfig) Interval() time.Duration {
	return time.Duration(c.v.IntervalSeconds) * time.Second
}

func (c *AppConfig) Schedule() string        { return c.v.Schedule }
func (c *AppConfig) AdapterName() string     { return c.v.AdapterName }
func (c *AppConfig) Local() LocalConfig      { return c.v.Local }
func (c *AppConfig) GenericHTTP() HTTPConfig { return c.v.GenericHTTP }
func (c *AppConfig) OpenAI() OpenAIConfig    { return c.v.OpenAI }
func (c *AppConfig) LogLevel() string        { return c.v.LogLevel }
func (c *AppConfig) ConfigSource() string    { return c.v.ConfigSource }
func (c *AppConfig) SettingPath() string     { return c.v.SettingPath }
