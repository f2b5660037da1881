// Package dispatch ties scanning, adapter invocation, output writing, and
// state commits into passes: one pass per RunOnce, an endless sequence of
// passes in RunForever.
package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/prompttick/prompttick/internal/adapter"
	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
	infrafs "github.com/prompttick/prompttick/internal/infra/fs"
	"github.com/prompttick/prompttick/internal/infra/scan"
	"github.com/prompttick/prompttick/internal/infra/state"
)

// Summary reports the outcome of one pass. Skipped counts empty prompt
// files, which are marked processed without producing output.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// Dispatcher runs the poll-and-dispatch pipeline. Files within a pass are
// processed strictly sequentially; each file fully completes (output write
// plus state commit) before the next begins.
type Dispatcher struct {
	fsys    afero.Fs
	cfg     config.Config
	store   *state.Store
	scanner *scan.Scanner
	backend adapter.Adapter
	log     app.Logger
	now     func() time.Time
}

// New wires a Dispatcher. The afero.Fs covers input, output, state, and
// journal access so passes are fully testable in memory.
func New(fsys afero.Fs, cfg config.Config, store *state.Store, backend adapter.Adapter, log app.Logger) *Dispatcher {
	return &Dispatcher{
		fsys:    fsys,
		cfg:     cfg,
		store:   store,
		scanner: scan.New(fsys),
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// Rescan clears the processed set and persists the empty state, making
// every matching input file eligible again.
func (d *Dispatcher) Rescan() error {
	d.store.Clear()
	if err := d.store.Save(); err != nil {
		return fmt.Errorf("failed to persist cleared state: %w", err)
	}
	d.log.Info("processed state cleared, all matching files will be reconsidered")
	return nil
}

// RunOnce executes a single pass: scan, truncate to the batch size, then
// handle each candidate in order. One file's failure never aborts the
// batch; failed files stay out of the processed set and are retried on
// the next pass. State is persisted after every handled file, so a crash
// mid-batch reprocesses at most the file that was in flight.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	passID := newPassID(d.now())
	start := d.now()

	files, err := d.scanner.Scan(d.cfg.InputDir(), d.cfg.FileExtensions(), d.cfg.Ordering(), d.store.Contains)
	if err != nil {
		return summary, fmt.Errorf("pass %s: %w", passID, err)
	}
	if len(files) > d.cfg.BatchSize() {
		files = files[:d.cfg.BatchSize()]
	}
	d.log.Info("pass %s: %d candidate(s), adapter=%s", passID, len(files), d.backend.Name())

	for _, file := range files {
		select {
		case <-ctx.Done():
			d.log.Warn("pass %s: interrupted after %d file(s)", passID, summary.Attempted)
			d.journal(passID, summary, start)
			return summary, nil
		default:
		}

		summary.Attempted++
		switch d.processFile(ctx, file.Path) {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		}
	}

	d.log.Info("pass %s: attempted=%d succeeded=%d failed=%d skipped=%d",
		passID, summary.Attempted, summary.Succeeded, summary.Failed, summary.Skipped)
	d.journal(passID, summary, start)
	return summary, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// processFile handles one candidate end to end. Every error path is
// absorbed here: logged, counted, and converted into "not processed".
func (d *Dispatcher) processFile(ctx context.Context, path string) outcome {
	data, err := afero.ReadFile(d.fsys, path)
	if err != nil {
		d.log.Error("read failed: file=%s: %v", path, err)
		return outcomeFailed
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		// Nothing to generate; record the file so it is not rescanned.
		d.markProcessed(path)
		d.log.Info("empty prompt, marked processed without output: %s", path)
		return outcomeSkipped
	}

	result, err := d.backend.Generate(ctx, content)
	if err != nil {
		d.log.Error("generation failed: file=%s adapter=%s: %v", path, d.backend.Name(), err)
		return outcomeFailed
	}

	outPath := d.outputPath(path)
	if err := infrafs.WriteFileAtomic(d.fsys, outPath, []byte(result)); err != nil {
		d.log.Error("output write failed: file=%s out=%s: %v", path, outPath, err)
		return outcomeFailed
	}

	d.markProcessed(path)
	d.log.Info("processed %s -> %s", path, outPath)
	return outcomeSucceeded
}

func (d *Dispatcher) markProcessed(path string) {
	d.store.Mark(path)
	if err := d.store.Save(); err != nil {
		// The in-memory mark still shields this run; the next run may
		// reprocess the file, which the at-least-once contract allows.
		d.log.Error("state save failed: %v", err)
	}
}

// outputPath names the output file <timestamp>_<source-basename>.out.txt,
// timestamped in local time at the moment of writing.
func (d *Dispatcher) outputPath(inputPath string) string {
	stamp := d.now().Format("20060102-150405")
	base := filepath.Base(inputPath)
	return filepath.Join(d.cfg.OutputDir(), stamp+"_"+base+".out.txt")
}

// journal appends one NDJSON record per pass. Best effort: a journal
// problem must not fail the pass.
func (d *Dispatcher) journal(passID string, summary Summary, start time.Time) {
	rec := map[string]any{
		"ts":         d.now().UTC().Format(time.RFC3339),
		"pass_id":    passID,
		"adapter":    d.backend.Name(),
		"attempted":  summary.Attempted,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
		"elapsed_ms": d.now().Sub(start).Milliseconds(),
	}
	journalPath := filepath.Join(d.cfg.LogDir(), "journal.ndjson")
	if err := infrafs.AppendNDJSONLine(d.fsys, journalPath, rec); err != nil {
		d.log.Warn("failed to write journal: %v", err)
	}
}

// newPassID returns a ULID tagging all log lines of one pass.
func newPassID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
