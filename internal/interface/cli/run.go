package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/prompttick/prompttick/internal/adapter"
	"github.com/prompttick/prompttick/internal/app/config"
	"github.com/prompttick/prompttick/internal/buildinfo"
	infraconfig "github.com/prompttick/prompttick/internal/infra/config"
	infrafs "github.com/prompttick/prompttick/internal/infra/fs"
	"github.com/prompttick/prompttick/internal/infra/state"
	"github.com/prompttick/prompttick/internal/usecase/dispatch"
)

func newRunCmd() *cobra.Command {
	var once bool
	var rescan bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the input directory and dispatch prompt files",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runPipeline(configPath, once, rescan)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass then exit")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "Clear the processed state before running")
	return cmd
}

// runPipeline is the startup sequence: load config, set up logging, ensure
// directories and state exist, take the run lock, then run one pass or the
// loop. Errors returned here become a non-zero exit; per-file failures
// inside a pass never reach this level.
func runPipeline(configPath string, once, rescan bool) error {
	fsys := afero.NewOsFs()

	cfg, err := infraconfig.LoadSettings(fsys, configPath, infraconfig.EnvSnapshot())
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	InitGlobalLogger(cfg.LogLevel(), cfg.LogDir())
	log := GetLogger()

	if err := ensureDirs(fsys, cfg); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	// Advisory lock: overlapping invocations against the same state file
	// are not safe, so a second instance refuses to start.
	release, err := infrafs.AcquireLock(fsys, cfg.StatePath()+".lock")
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("failed to release run lock: %v", err)
		}
	}()

	store := state.NewStore(fsys, cfg.StatePath())
	if err := store.Load(); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if exists, _ := afero.Exists(fsys, cfg.StatePath()); !exists {
		if err := store.Save(); err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
	}

	backend, err := adapter.New(cfg, log)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	dispatcher := dispatch.New(fsys, cfg, store, backend, log)
	if rescan {
		if err := dispatcher.Rescan(); err != nil {
			return err
		}
	}

	printBootInfo(cfg, configPath)

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if once {
		_, err := dispatcher.RunOnce(ctx)
		return err
	}
	return dispatcher.RunForever(ctx)
}

func ensureDirs(fsys afero.Fs, cfg config.Config) error {
	for _, dir := range []string{cfg.InputDir(), cfg.OutputDir(), cfg.LogDir()} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	}
	return nil
}

func printBootInfo(cfg config.Config, configPath string) {
	Info("prompttick v%s starting", buildinfo.GetVersion())
	Info("runtime: %s | %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	Info("config: %s (source=%s)", configPath, cfg.ConfigSource())
	Info("paths: input=%s | output=%s | logs=%s | state=%s",
		cfg.InputDir(), cfg.OutputDir(), cfg.LogDir(), cfg.StatePath())
	Info("adapter=%s ordering=%s batch_size=%d log_level=%s",
		cfg.AdapterName(), cfg.Ordering(), cfg.BatchSize(), cfg.LogLevel())
}

// setupSignalHandler converts SIGINT/SIGTERM into context cancellation so
// the loop finishes its current pass and exits cleanly.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		Info("received signal %v, finishing current pass before exit", sig)
		cancel()
	}()

	return ctx, cancel
}
