package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
	"github.com/prompttick/prompttick/internal/pkg/jsonptr"
)

const promptPlaceholder = "${PROMPT}"

// sensitiveHeaders are masked in logs; only the auth scheme word survives.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"api-key":             {},
	"x-api-token":         {},
	"x-auth-token":        {},
}

// GenericHTTP calls an arbitrary REST endpoint described entirely by
// configuration: URL, method, headers, a body template with a ${PROMPT}
// placeholder, and a JSON Pointer locating the result in the response.
type GenericHTTP struct {
	cfg     config.HTTPConfig
	log     app.Logger
	client  *http.Client
	retryOn map[int]struct{}

	// sleep is swapped out in tests so backoff does not slow them down.
	sleep func(ctx context.Context, d time.Duration) error
}

func newGenericHTTP(cfg config.Config, log app.Logger) (Adapter, error) {
	hc := cfg.GenericHTTP()
	if hc.URL == "" {
		return nil, fmt.Errorf("generic_http.url is not configured")
	}
	retryOn := make(map[int]struct{}, len(hc.RetryOnStatus))
	for _, status := range hc.RetryOnStatus {
		retryOn[status] = struct{}{}
	}
	return &GenericHTTP{
		cfg:     hc,
		log:     log,
		client:  &http.Client{Timeout: hc.Timeout()},
		retryOn: retryOn,
		sleep:   sleepContext,
	}, nil
}

func (a *GenericHTTP) Name() string { return "generic_http" }

// Generate issues the configured request, retrying on transport failures
// and configured status codes with exponential backoff. Extraction and
// request-construction problems are terminal: retrying cannot fix them.
func (a *GenericHTTP) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := a.buildPayload(prompt)
	if err != nil {
		return "", err
	}

	a.log.Info("http adapter: %s %s timeout=%ds attempts=%d",
		a.cfg.Method, a.cfg.URL, a.cfg.TimeoutSec, a.cfg.MaxAttempts)
	a.log.Debug("http adapter headers: %v", maskHeaders(a.cfg.Headers))

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		result, retryable, err := a.attempt(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err

		if attempt < a.cfg.MaxAttempts {
			delay := a.backoffDelay(attempt)
			a.log.Warn("http adapter: attempt %d/%d failed (%v), retrying in %s",
				attempt, a.cfg.MaxAttempts, err, delay)
			if err := a.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("retry wait interrupted: %w", err)
			}
		}
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", a.cfg.MaxAttempts, lastErr)
}

// attempt performs one request. retryable reports whether the failure may
// be resolved by trying again.
func (a *GenericHTTP) attempt(ctx context.Context, payload []byte) (result string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, a.cfg.Method, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range a.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		text, err := a.extract(body)
		if err != nil {
			return "", false, err
		}
		return text, false, nil
	}

	msg := fmt.Errorf("HTTP %d: %s", resp.StatusCode, excerpt(string(body), 512))
	if _, ok := a.retryOn[resp.StatusCode]; ok {
		return "", true, msg
	}
	return "", false, msg
}

// buildPayload substitutes ${PROMPT} into the body template. With a JSON
// content type the rendered body must parse as JSON; it is re-encoded so
// the wire payload is exactly what the server will accept.
func (a *GenericHTTP) buildPayload(prompt string) ([]byte, error) {
	body := strings.ReplaceAll(a.cfg.BodyTemplate, promptPlaceholder, prompt)
	if body == "" {
		return nil, nil
	}
	if !a.contentTypeIsJSON() {
		return []byte(body), nil
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("rendered body_template is not valid JSON: %w", err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return encoded, nil
}

func (a *GenericHTTP) contentTypeIsJSON() bool {
	for key, value := range a.cfg.Headers {
		if strings.EqualFold(key, "Content-Type") {
			mediaType := strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
			return strings.EqualFold(mediaType, "application/json")
		}
	}
	return false
}

// extract decodes the response and walks the configured JSON Pointer.
// A string target is returned verbatim; anything else is re-encoded as
// compact JSON so the caller still gets text.
func (a *GenericHTTP) extract(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: response is not valid JSON: %v (body: %s)",
			ErrExtraction, err, excerpt(string(body), 512))
	}
	target, err := jsonptr.Get(doc, a.cfg.ResponsePointer)
	if err != nil {
		return "", fmt.Errorf("%w: pointer %q: %v", ErrExtraction, a.cfg.ResponsePointer, err)
	}
	if text, ok := target.(string); ok {
		return text, nil
	}
	encoded, err := json.Marshal(target)
	if err != nil {
		return "", fmt.Errorf("%w: cannot encode extracted value: %v", ErrExtraction, err)
	}
	return string(encoded), nil
}

func (a *GenericHTTP) backoffDelay(attempt int) time.Duration {
	// attempt n waits backoff_seconds * 2^(n-1)
	seconds := a.cfg.BackoffSeconds
	for i := 1; i < attempt; i++ {
		seconds *= 2
	}
	return time.Duration(seconds * float64(time.Second))
}

// maskHeaders returns a copy safe for logging: sensitive values keep their
// scheme word (e.g. "Bearer") and lose the credential.
func maskHeaders(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, value := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(key)]; !sensitive || value == "" {
			masked[key] = value
			continue
		}
		parts := strings.SplitN(value, " ", 2)
		if len(parts) == 2 {
			masked[key] = parts[0] + " ***"
		} else {
			masked[key] = "***"
		}
	}
	return masked
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
