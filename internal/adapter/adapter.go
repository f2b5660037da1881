// Package adapter contains the pluggable generation backends: a prompt
// goes in, generated text (or an error) comes out.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
)

// Sentinel errors the dispatcher and tests can match with errors.Is.
var (
	// ErrTimeout marks an adapter call that exceeded its configured
	// wall-clock limit.
	ErrTimeout = errors.New("adapter call timed out")
	// ErrExtraction marks a response that arrived but did not contain
	// the expected result field. Never retried.
	ErrExtraction = errors.New("response extraction failed")
)

// Adapter turns prompt text into generated text.
type Adapter interface {
	// Name identifies the adapter variant in logs.
	Name() string
	// Generate produces output text for prompt. Blocking; honors ctx up
	// to the adapter's own timeout.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Factory builds an adapter from resolved configuration.
type Factory func(cfg config.Config, log app.Logger) (Adapter, error)

// registry maps the configured adapter name to its constructor. Adding a
// backend means adding an entry here, not touching the dispatch loop.
var registry = map[string]Factory{
	"echo":         newEcho,
	"local":        newLocalCommand,
	"generic_http": newGenericHTTP,
	"openai":       newOpenAI,
}

// New returns the adapter selected by cfg.AdapterName().
func New(cfg config.Config, log app.Logger) (Adapter, error) {
	factory, ok := registry[cfg.AdapterName()]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q (available: %s)", cfg.AdapterName(), names())
	}
	return factory(cfg, log)
}

func names() string {
	all := make([]string, 0, len(registry))
	for name := range registry {
		all = append(all, name)
	}
	sort.Strings(all)
	out := ""
	for i, name := range all {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
