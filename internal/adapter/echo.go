package adapter

import (
	"context"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
)

// Echo returns the prompt wrapped in a fixed banner. It needs no backend,
// which makes it the self-test adapter for verifying the scan/dispatch/
// state plumbing end to end.
type Echo struct{}

func newEcho(config.Config, app.Logger) (Adapter, error) {
	return Echo{}, nil
}

func (Echo) Name() string { return "echo" }

func (Echo) Generate(_ context.Context, prompt string) (string, error) {
	return "[ECHO]\n\n" + prompt, nil
}
