package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
)

// Template tokens recognized by the local command adapter. Anything else
// in ${...} form is left verbatim for the shell.
const (
	tokenPromptPath = "${PROMPT_PATH}"
	tokenModel      = "${MODEL}"
	tokenArgs       = "${ARGS}"
	tokenOutPath    = "${OUT_PATH}"
)

var apiKeyPattern = regexp.MustCompile(`(?i)(api[-_]?key)(\s+|=)\S+`)

// LocalCommand bridges prompts to a local command-line program. The
// rendered template runs through the shell, so the template source is a
// trust boundary: whoever writes the config can run arbitrary commands.
type LocalCommand struct {
	cfg config.LocalConfig
	log app.Logger
}

func newLocalCommand(cfg config.Config, log app.Logger) (Adapter, error) {
	local := cfg.Local()
	if local.CommandTemplate == "" {
		return nil, fmt.Errorf("local.command_template is not configured")
	}
	if local.OutputMode != "stdout" && local.OutputMode != "file" {
		return nil, fmt.Errorf("local.output_mode must be \"stdout\" or \"file\", got %q", local.OutputMode)
	}
	return &LocalCommand{cfg: local, log: log}, nil
}

func (a *LocalCommand) Name() string { return "local" }

// Generate writes the prompt to a temp file, renders the command template,
// runs it with a wall-clock timeout, and collects the result from stdout
// or the designated output file. Temp files are removed on every path.
// The subprocess needs real paths, so this adapter works on the OS
// filesystem directly.
func (a *LocalCommand) Generate(ctx context.Context, prompt string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "prompttick-local-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	promptPath := filepath.Join(tmpDir, "input.prompt.txt")
	if err := os.WriteFile(promptPath, []byte(prompt), 0o644); err != nil {
		return "", fmt.Errorf("failed to write prompt file: %w", err)
	}
	outPath := filepath.Join(tmpDir, "output"+a.cfg.OutSuffix)

	command := a.renderCommand(promptPath, outPath)
	a.log.Info("local adapter: engine=%s model=%q timeout=%ds mode=%s",
		a.cfg.Engine, a.cfg.Model, a.cfg.TimeoutSec, a.cfg.OutputMode)
	a.log.Debug("local adapter command (masked): %s", maskCommand(command))

	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout())
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), flattenEnv(a.cfg.Env)...)
	if a.cfg.Workdir != "" {
		if info, err := os.Stat(a.cfg.Workdir); err == nil && info.IsDir() {
			cmd.Dir = a.cfg.Workdir
		} else {
			a.log.Warn("local adapter: workdir %s does not exist, using process dir", a.cfg.Workdir)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("local process exceeded %ds: %w", a.cfg.TimeoutSec, ErrTimeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", fmt.Errorf("local process exited %d: %s", exitErr.ExitCode(), excerpt(stderr.String(), 800))
		}
		return "", fmt.Errorf("failed to launch local process: %w", runErr)
	}

	a.log.Info("local adapter: exit=0 elapsed=%.2fs stdout=%dB stderr=%dB",
		elapsed.Seconds(), stdout.Len(), stderr.Len())

	if a.cfg.OutputMode == "file" {
		result, err := os.ReadFile(outPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("expected output file missing (OUT_PATH): %s", outPath)
			}
			return "", fmt.Errorf("failed to read output file: %w", err)
		}
		return string(result), nil
	}

	result := stdout.String()
	if strings.TrimSpace(result) == "" {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("local process produced no stdout; stderr: %s", excerpt(msg, 800))
		}
		return "", fmt.Errorf("local process produced no stdout")
	}
	return result, nil
}

// renderCommand substitutes the recognized tokens. When the template never
// mentions ${ARGS}, configured args are appended so they are not lost.
func (a *LocalCommand) renderCommand(promptPath, outPath string) string {
	joined := joinArgs(a.cfg.Args)
	command := a.cfg.CommandTemplate
	command = strings.ReplaceAll(command, tokenPromptPath, promptPath)
	command = strings.ReplaceAll(command, tokenModel, a.cfg.Model)
	command = strings.ReplaceAll(command, tokenArgs, joined)
	command = strings.ReplaceAll(command, tokenOutPath, outPath)

	if !strings.Contains(a.cfg.CommandTemplate, tokenArgs) && joined != "" {
		command = command + " " + joined
	}
	return command
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// joinArgs quotes each argument for POSIX sh and joins with spaces.
func joinArgs(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, quoteArg(arg))
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if shellSafe.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	return out
}

// maskCommand hides api-key-looking values in logged command lines.
func maskCommand(command string) string {
	return apiKeyPattern.ReplaceAllString(command, "${1}${2}***")
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
