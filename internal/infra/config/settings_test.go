package config_test

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraconfig "github.com/prompttick/prompttick/internal/infra/config"
)

const minimalYAML = `
input_dir: /data/in
output_dir: /data/out
log_dir: /data/logs
state_path: /data/state.json
file_extensions: [".txt", ".md"]
ordering: name
log_level: info
`

func loadFromString(t *testing.T, doc string, env map[string]string) error {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/prompttick/config.yaml", []byte(doc), 0o644))
	_, err := infraconfig.LoadSettings(fsys, "/etc/prompttick/config.yaml", env)
	return err
}

func TestLoadSettings_MinimalConfigAppliesDefaults(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(minimalYAML), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.InputDir())
	assert.Equal(t, []string{".txt", ".md"}, cfg.FileExtensions())
	assert.Equal(t, "name", cfg.Ordering())
	assert.Equal(t, 10, cfg.BatchSize())
	assert.Equal(t, 60, cfg.IntervalSeconds())
	assert.Equal(t, "echo", cfg.AdapterName())
	assert.Equal(t, "", cfg.Schedule())
	assert.Equal(t, "stdout", cfg.Local().OutputMode)
	assert.Equal(t, 120, cfg.Local().TimeoutSec)
	assert.Equal(t, "POST", cfg.GenericHTTP().Method)
	assert.Equal(t, 1, cfg.GenericHTTP().MaxAttempts)
	assert.Equal(t, "yaml", cfg.ConfigSource())
}

func TestLoadSettings_MissingFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_, err := infraconfig.LoadSettings(fsys, "/nope.yaml", map[string]string{})
	require.Error(t, err)
}

func TestLoadSettings_EmptyDocument(t *testing.T) {
	err := loadFromString(t, "# just a comment\n", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLoadSettings_MissingRequiredKeys(t *testing.T) {
	err := loadFromString(t, "input_dir: /in\nlog_level: info\n", map[string]string{})
	require.Error(t, err)
	// Missing keys are reported sorted and joined.
	for _, key := range []string{"output_dir", "log_dir", "state_path", "file_extensions", "ordering"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadSettings_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{"bad ordering", "ordering: size", "ordering"},
		{"zero batch size", "batch_size: 0", "batch_size"},
		{"zero interval", "interval_seconds: 0", "interval_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := minimalYAML
			if strings.HasPrefix(tt.mutate, "ordering:") {
				doc = strings.Replace(doc, "ordering: name", tt.mutate, 1)
			} else {
				doc += tt.mutate + "\n"
			}
			err := loadFromString(t, doc, map[string]string{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSettings_HeaderEnvExpansion(t *testing.T) {
	doc := minimalYAML + `
adapter: generic_http
generic_http:
  url: https://api.example.com/v1/generate
  headers:
    Authorization: "Bearer ${ENV:API_TOKEN}"
    Content-Type: application/json
  body_template: '{"prompt": "${PROMPT}"}'
`
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(doc), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{"API_TOKEN": "sk-test-123"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test-123", cfg.GenericHTTP().Headers["Authorization"])
	// ${PROMPT} survives env expansion; it is substituted per request.
	assert.Equal(t, `{"prompt": "${PROMPT}"}`, cfg.GenericHTTP().BodyTemplate)
}

func TestLoadSettings_MissingHeaderEnvVarFailsStartup(t *testing.T) {
	doc := minimalYAML + `
generic_http:
  url: https://api.example.com
  headers:
    Authorization: "Bearer ${ENV:NOT_SET_ANYWHERE}"
`
	err := loadFromString(t, doc, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SET_ANYWHERE")
}

func TestLoadSettings_LocalEnvExpandsLeniently(t *testing.T) {
	doc := minimalYAML + `
adapter: local
local:
  command_template: "cat ${PROMPT_PATH}"
  env:
    MODEL_KEY: "${ENV:MISSING_LOCAL_VAR}"
    STATIC: "value"
`
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(doc), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Local().Env["MODEL_KEY"])
	assert.Equal(t, "value", cfg.Local().Env["STATIC"])
}

func TestLoadSettings_OpenAISettings(t *testing.T) {
	doc := minimalYAML + `
adapter: openai
openai:
  base_url: https://proxy.example.com/v1/
  model: gpt-4.1
  temperature: 0.2
  max_output_tokens: 400
  system_prompt: be brief
  extra_headers:
    X-Project: "${ENV:PROJECT_ID}"
  max_attempts: 5
  backoff_seconds: 0.25
`
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(doc), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{
		"OPENAI_API_KEY": "sk-live-42",
		"PROJECT_ID":     "proj_7",
	})
	require.NoError(t, err)

	oc := cfg.OpenAI()
	// Trailing slash is trimmed so the /responses path joins cleanly.
	assert.Equal(t, "https://proxy.example.com/v1", oc.BaseURL)
	assert.Equal(t, "sk-live-42", oc.APIKey)
	assert.Equal(t, "gpt-4.1", oc.Model)
	assert.Equal(t, 0.2, oc.Temperature)
	assert.Equal(t, 400, oc.MaxOutputTokens)
	assert.Equal(t, "be brief", oc.SystemPrompt)
	assert.Equal(t, "proj_7", oc.ExtraHeaders["X-Project"])
	assert.Equal(t, 5, oc.MaxAttempts)
	assert.Equal(t, 0.25, oc.BackoffSeconds)
}

func TestLoadSettings_OpenAIDefaults(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(minimalYAML), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{})
	require.NoError(t, err)

	oc := cfg.OpenAI()
	assert.Equal(t, "https://api.openai.com/v1", oc.BaseURL)
	assert.Equal(t, "gpt-4.1-mini", oc.Model)
	assert.Equal(t, 0.7, oc.Temperature)
	assert.Equal(t, 800, oc.MaxOutputTokens)
	assert.Equal(t, 60, oc.TimeoutSec)
	assert.Equal(t, 3, oc.MaxAttempts)
	assert.Equal(t, 1.0, oc.BackoffSeconds)
	assert.Equal(t, "", oc.APIKey)
}

func TestLoadSettings_RetrySettings(t *testing.T) {
	doc := minimalYAML + `
generic_http:
  url: https://api.example.com
  method: post
  timeout: 30
  response_json_pointer: /data/text
  retries:
    max_attempts: 3
    backoff_seconds: 0.5
    retry_on_status: [429, 503]
`
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/config.yaml", []byte(doc), 0o644))

	cfg, err := infraconfig.LoadSettings(fsys, "/config.yaml", map[string]string{})
	require.NoError(t, err)

	hc := cfg.GenericHTTP()
	assert.Equal(t, "POST", hc.Method)
	assert.Equal(t, 30, hc.TimeoutSec)
	assert.Equal(t, "/data/text", hc.ResponsePointer)
	assert.Equal(t, 3, hc.MaxAttempts)
	assert.Equal(t, 0.5, hc.BackoffSeconds)
	assert.Equal(t, []int{429, 503}, hc.RetryOnStatus)
}
