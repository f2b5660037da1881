// Package config loads and validates the YAML configuration file and
// resolves it into the read-only app config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/prompttick/prompttick/internal/app/config"
	"github.com/prompttick/prompttick/internal/infra/scan"
)

// RawSettings mirrors the YAML document. Pointer fields distinguish
// "absent" from zero values so required keys can be enforced.
type RawSettings struct {
	InputDir        *string  `yaml:"input_dir"`
	OutputDir       *string  `yaml:"output_dir"`
	LogDir          *string  `yaml:"log_dir"`
	StatePath       *string  `yaml:"state_path"`
	FileExtensions  []string `yaml:"file_extensions"`
	Ordering        *string  `yaml:"ordering"`
	BatchSize       *int     `yaml:"batch_size"`
	IntervalSeconds *int     `yaml:"interval_seconds"`
	Schedule        *string  `yaml:"schedule"`
	Adapter         *string  `yaml:"adapter"`
	LogLevel        *string  `yaml:"log_level"`

	Local       *RawLocal  `yaml:"local"`
	GenericHTTP *RawHTTP   `yaml:"generic_http"`
	OpenAI      *RawOpenAI `yaml:"openai"`
}

// RawLocal is the local-adapter block.
type RawLocal struct {
	Engine          *string           `yaml:"engine"`
	Model           *string           `yaml:"model"`
	Args            []string          `yaml:"args"`
	TimeoutSeconds  *int              `yaml:"timeout_seconds"`
	OutputMode      *string           `yaml:"output_mode"`
	CommandTemplate *string           `yaml:"command_template"`
	Workdir         *string           `yaml:"workdir"`
	Env             map[string]string `yaml:"env"`
	OutSuffix       *string           `yaml:"out_suffix"`
}

// RawHTTP is the generic_http adapter block.
type RawHTTP struct {
	URL                 *string           `yaml:"url"`
	Method              *string           `yaml:"method"`
	Timeout             *int              `yaml:"timeout"`
	Headers             map[string]string `yaml:"headers"`
	BodyTemplate        *string           `yaml:"body_template"`
	ResponseJSONPointer *string           `yaml:"response_json_pointer"`
	Retries             *RawRetries       `yaml:"retries"`
}

// RawOpenAI is the openai adapter block.
type RawOpenAI struct {
	BaseURL         *string           `yaml:"base_url"`
	Model           *string           `yaml:"model"`
	Temperature     *float64          `yaml:"temperature"`
	MaxOutputTokens *int              `yaml:"max_output_tokens"`
	SystemPrompt    *string           `yaml:"system_prompt"`
	ExtraHeaders    map[string]string `yaml:"extra_headers"`
	Timeout         *int              `yaml:"timeout"`
	MaxAttempts     *int              `yaml:"max_attempts"`
	BackoffSeconds  *float64          `yaml:"backoff_seconds"`
}

// RawRetries is the generic_http.retries block.
type RawRetries struct {
	MaxAttempts    *int     `yaml:"max_attempts"`
	BackoffSeconds *float64 `yaml:"backoff_seconds"`
	RetryOnStatus  []int    `yaml:"retry_on_status"`
}

// requiredKeys must all be present in the YAML document.
var requiredKeys = []string{
	"input_dir", "output_dir", "log_dir", "state_path",
	"file_extensions", "ordering", "log_level",
}

// LoadSettings reads the YAML file at path, validates it, resolves
// ${ENV:VAR} tokens from the env snapshot, and builds the AppConfig.
// Any error here is a startup (configuration) error.
func LoadSettings(fsys afero.Fs, path string, env map[string]string) (*config.AppConfig, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("config file not readable: %s: %w", path, err)
	}

	settings := &RawSettings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if isEmptyDocument(data) {
		return nil, fmt.Errorf("config file %s is empty; fill in the required settings first", path)
	}

	if err := validate(settings); err != nil {
		return nil, err
	}
	applyDefaults(settings)

	values, err := resolve(settings, env)
	if err != nil {
		return nil, err
	}
	values.ConfigSource = "yaml"
	values.SettingPath = path
	return config.NewAppConfig(*values), nil
}

func isEmptyDocument(data []byte) bool {
	var probe any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe == nil
}

func validate(s *RawSettings) error {
	var missing []string
	present := map[string]bool{
		"input_dir":       s.InputDir != nil,
		"output_dir":      s.OutputDir != nil,
		"log_dir":         s.LogDir != nil,
		"state_path":      s.StatePath != nil,
		"file_extensions": s.FileExtensions != nil,
		"ordering":        s.Ordering != nil,
		"log_level":       s.LogLevel != nil,
	}
	for _, key := range requiredKeys {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config is missing required keys: %s", strings.Join(missing, ", "))
	}

	if len(s.FileExtensions) == 0 {
		return fmt.Errorf("file_extensions must list at least one extension")
	}
	if o := *s.Ordering; o != scan.OrderByName && o != scan.OrderByMtime {
		return fmt.Errorf("ordering must be %q or %q, got %q", scan.OrderByName, scan.OrderByMtime, o)
	}
	if s.BatchSize != nil && *s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", *s.BatchSize)
	}
	if s.IntervalSeconds != nil && *s.IntervalSeconds < 1 {
		return fmt.Errorf("interval_seconds must be at least 1, got %d", *s.IntervalSeconds)
	}
	return nil
}

func applyDefaults(s *RawSettings) {
	if s.BatchSize == nil {
		v := 10
		s.BatchSize = &v
	}
	if s.IntervalSeconds == nil {
		v := 60
		s.IntervalSeconds = &v
	}
	if s.Schedule == nil {
		v := ""
		s.Schedule = &v
	}
	if s.Adapter == nil {
		v := "echo"
		s.Adapter = &v
	}
	if s.Local == nil {
		s.Local = &RawLocal{}
	}
	if s.GenericHTTP == nil {
		s.GenericHTTP = &RawHTTP{}
	}
	if s.GenericHTTP.Retries == nil {
		s.GenericHTTP.Retries = &RawRetries{}
	}
	if s.OpenAI == nil {
		s.OpenAI = &RawOpenAI{}
	}

	l := s.Local
	if l.Engine == nil {
		v := "cmd"
		l.Engine = &v
	}
	if l.Model == nil {
		v := ""
		l.Model = &v
	}
	if l.TimeoutSeconds == nil {
		v := 120
		l.TimeoutSeconds = &v
	}
	if l.OutputMode == nil {
		v := "stdout"
		l.OutputMode = &v
	}
	if l.CommandTemplate == nil {
		v := ""
		l.CommandTemplate = &v
	}
	if l.Workdir == nil {
		v := ""
		l.Workdir = &v
	}
	if l.OutSuffix == nil {
		v := ".out.txt"
		l.OutSuffix = &v
	}

	h := s.GenericHTTP
	if h.URL == nil {
		v := ""
		h.URL = &v
	}
	if h.Method == nil {
		v := "POST"
		h.Method = &v
	}
	if h.Timeout == nil {
		v := 60
		h.Timeout = &v
	}
	if h.BodyTemplate == nil {
		v := ""
		h.BodyTemplate = &v
	}
	if h.ResponseJSONPointer == nil {
		v := ""
		h.ResponseJSONPointer = &v
	}
	r := h.Retries
	if r.MaxAttempts == nil {
		v := 1
		r.MaxAttempts = &v
	}
	if r.BackoffSeconds == nil {
		v := 1.0
		r.BackoffSeconds = &v
	}

	o := s.OpenAI
	if o.BaseURL == nil {
		v := "https://api.openai.com/v1"
		o.BaseURL = &v
	}
	if o.Model == nil {
		v := "gpt-4.1-mini"
		o.Model = &v
	}
	if o.Temperature == nil {
		v := 0.7
		o.Temperature = &v
	}
	if o.MaxOutputTokens == nil {
		v := 800
		o.MaxOutputTokens = &v
	}
	if o.SystemPrompt == nil {
		v := ""
		o.SystemPrompt = &v
	}
	if o.Timeout == nil {
		v := 60
		o.Timeout = &v
	}
	if o.MaxAttempts == nil {
		v := 3
		o.MaxAttempts = &v
	}
	if o.BackoffSeconds == nil {
		v := 1.0
		o.BackoffSeconds = &v
	}
}

// resolve turns validated raw settings into config values: paths are made
// absolute, env tokens expanded. Header/body expansion is strict — a
// missing variable fails startup before any request is sent. Local env
// values expand leniently to the empty string, matching their use as
// subprocess environment overrides.
func resolve(s *RawSettings, env map[string]string) (*config.Values, error) {
	inputDir, err := absPath(*s.InputDir)
	if err != nil {
		return nil, err
	}
	outputDir, err := absPath(*s.OutputDir)
	if err != nil {
		return nil, err
	}
	logDir, err := absPath(*s.LogDir)
	if err != nil {
		return nil, err
	}
	statePath, err := absPath(*s.StatePath)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(s.GenericHTTP.Headers))
	for key, value := range s.GenericHTTP.Headers {
		expanded, err := expandEnvTokens(value, env, true)
		if err != nil {
			return nil, fmt.Errorf("generic_http.headers[%s]: %w", key, err)
		}
		headers[key] = expanded
	}
	bodyTemplate, err := expandEnvTokens(*s.GenericHTTP.BodyTemplate, env, true)
	if err != nil {
		return nil, fmt.Errorf("generic_http.body_template: %w", err)
	}

	localEnv := make(map[string]string, len(s.Local.Env))
	for key, value := range s.Local.Env {
		expanded, _ := expandEnvTokens(value, env, false)
		localEnv[key] = expanded
	}

	openAIHeaders := make(map[string]string, len(s.OpenAI.ExtraHeaders))
	for key, value := range s.OpenAI.ExtraHeaders {
		expanded, err := expandEnvTokens(value, env, true)
		if err != nil {
			return nil, fmt.Errorf("openai.extra_headers[%s]: %w", key, err)
		}
		openAIHeaders[key] = expanded
	}

	openAIAttempts := *s.OpenAI.MaxAttempts
	if openAIAttempts < 1 {
		openAIAttempts = 1
	}
	openAIBackoff := *s.OpenAI.BackoffSeconds
	if openAIBackoff < 0 {
		openAIBackoff = 0
	}

	maxAttempts := *s.GenericHTTP.Retries.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := *s.GenericHTTP.Retries.BackoffSeconds
	if backoff < 0 {
		backoff = 0
	}

	return &config.Values{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		LogDir:          logDir,
		StatePath:       statePath,
		FileExtensions:  append([]string(nil), s.FileExtensions...),
		Ordering:        *s.Ordering,
		BatchSize:       *s.BatchSize,
		IntervalSeconds: *s.IntervalSeconds,
		Schedule:        *s.Schedule,
		AdapterName:     *s.Adapter,
		LogLevel:        *s.LogLevel,
		Local: config.LocalConfig{
			Engine:          *s.Local.Engine,
			Model:           *s.Local.Model,
			Args:            append([]string(nil), s.Local.Args...),
			TimeoutSec:      *s.Local.TimeoutSeconds,
			OutputMode:      strings.ToLower(*s.Local.OutputMode),
			CommandTemplate: *s.Local.CommandTemplate,
			Workdir:         *s.Local.Workdir,
			Env:             localEnv,
			OutSuffix:       *s.Local.OutSuffix,
		},
		GenericHTTP: config.HTTPConfig{
			URL:             strings.TrimSpace(*s.GenericHTTP.URL),
			Method:          strings.ToUpper(*s.GenericHTTP.Method),
			TimeoutSec:      *s.GenericHTTP.Timeout,
			Headers:         headers,
			BodyTemplate:    bodyTemplate,
			ResponsePointer: *s.GenericHTTP.ResponseJSONPointer,
			MaxAttempts:     maxAttempts,
			BackoffSeconds:  backoff,
			RetryOnStatus:   append([]int(nil), s.GenericHTTP.Retries.RetryOnStatus...),
		},
		OpenAI: config.OpenAIConfig{
			BaseURL:         strings.TrimRight(strings.TrimSpace(*s.OpenAI.BaseURL), "/"),
			APIKey:          env["OPENAI_API_KEY"],
			Model:           *s.OpenAI.Model,
			Temperature:     *s.OpenAI.Temperature,
			MaxOutputTokens: *s.OpenAI.MaxOutputTokens,
			SystemPrompt:    *s.OpenAI.SystemPrompt,
			ExtraHeaders:    openAIHeaders,
			TimeoutSec:      *s.OpenAI.Timeout,
			MaxAttempts:     openAIAttempts,
			BackoffSeconds:  openAIBackoff,
		},
	}, nil
}

// absPath expands a leading ~ and makes the path absolute.
func absPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~ in %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return abs, nil
}
