package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
)

// openAIRetryStatus lists the status codes worth retrying against the
// Responses API. Fixed rather than configurable: these are the codes the
// service documents as transient.
var openAIRetryStatus = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// OpenAI calls the OpenAI Responses API directly over HTTP. Retries honor
// the server's Retry-After header when present and fall back to
// exponential backoff otherwise.
type OpenAI struct {
	cfg    config.OpenAIConfig
	log    app.Logger
	client *http.Client

	// sleep is swapped out in tests so backoff does not slow them down.
	sleep func(ctx context.Context, d time.Duration) error
}

func newOpenAI(cfg config.Config, log app.Logger) (Adapter, error) {
	oc := cfg.OpenAI()
	if oc.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	if oc.BaseURL == "" {
		return nil, fmt.Errorf("openai.base_url is not configured")
	}
	return &OpenAI{
		cfg:    oc,
		log:    log,
		client: &http.Client{Timeout: oc.Timeout()},
		sleep:  sleepContext,
	}, nil
}

func (a *OpenAI) Name() string { return "openai" }

// responsesRequest is the Responses API request payload.
type responsesRequest struct {
	Model           string             `json:"model"`
	Input           []responsesMessage `json:"input"`
	Temperature     float64            `json:"temperature"`
	MaxOutputTokens int                `json:"max_output_tokens"`
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate sends the prompt to the Responses API and extracts the output
// text. Transport failures and transient statuses are retried; anything
// else is terminal.
func (a *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := a.buildRequest(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	preview := strings.ReplaceAll(excerpt(prompt, 80), "\n", " ")
	a.log.Info("openai adapter: model=%s temp=%g max_out=%d prompt_preview=%q len=%d",
		a.cfg.Model, a.cfg.Temperature, a.cfg.MaxOutputTokens, preview, len(prompt))

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		result, wait, retryable, err := a.attempt(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err

		if attempt < a.cfg.MaxAttempts {
			delay := a.backoffDelay(attempt)
			if wait != nil {
				delay = *wait
			}
			a.log.Warn("openai adapter: attempt %d/%d failed (%v), retrying in %s",
				attempt, a.cfg.MaxAttempts, err, delay)
			if err := a.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("retry wait interrupted: %w", err)
			}
		}
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", a.cfg.MaxAttempts, lastErr)
}

// attempt performs one request. wait carries the server's Retry-After
// value when it sent one; retryable reports whether the failure may be
// resolved by trying again.
func (a *OpenAI) attempt(ctx context.Context, payload []byte) (result string, wait *time.Duration, retryable bool, err error) {
	url := a.cfg.BaseURL + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range a.cfg.ExtraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, false, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return "", nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		text, err := extractResponsesText(body)
		if err != nil {
			return "", nil, false, err
		}
		return text, nil, false, nil
	}

	msg := fmt.Errorf("HTTP %d: %s", resp.StatusCode, excerpt(string(body), 512))
	if _, ok := openAIRetryStatus[resp.StatusCode]; ok {
		return "", parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), true, msg
	}
	return "", nil, false, msg
}

func (a *OpenAI) buildRequest(prompt string) ([]byte, error) {
	var input []responsesMessage
	if strings.TrimSpace(a.cfg.SystemPrompt) != "" {
		input = append(input, responsesMessage{Role: "system", Content: a.cfg.SystemPrompt})
	}
	input = append(input, responsesMessage{Role: "user", Content: prompt})

	return json.Marshal(responsesRequest{
		Model:           a.cfg.Model,
		Input:           input,
		Temperature:     a.cfg.Temperature,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	})
}

func (a *OpenAI) backoffDelay(attempt int) time.Duration {
	// attempt n waits backoff_seconds * 2^(n-1)
	seconds := a.cfg.BackoffSeconds
	for i := 1; i < attempt; i++ {
		seconds *= 2
	}
	return time.Duration(seconds * float64(time.Second))
}

// extractResponsesText pulls the generated text from a Responses API
// payload: the flat output_text field when present, otherwise the
// concatenated output_text blocks of message items.
func extractResponsesText(body []byte) (string, error) {
	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: response is not valid JSON: %v (body: %s)",
			ErrExtraction, err, excerpt(string(body), 512))
	}

	if strings.TrimSpace(payload.OutputText) != "" {
		return payload.OutputText, nil
	}

	var chunks []string
	for _, item := range payload.Output {
		if item.Type != "message" {
			continue
		}
		for _, block := range item.Content {
			if block.Type == "output_text" {
				chunks = append(chunks, block.Text)
			}
		}
	}
	if len(chunks) > 0 {
		return strings.Join(chunks, ""), nil
	}
	return "", fmt.Errorf("%w: no output text in response (body: %s)",
		ErrExtraction, excerpt(string(body), 512))
}

// parseRetryAfter reads a Retry-After header as either delay seconds or
// an HTTP-date. Unparseable or negative values yield nil so the caller
// falls back to its own backoff.
func parseRetryAfter(value string, now time.Time) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds * float64(time.Second))
		return &d
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
