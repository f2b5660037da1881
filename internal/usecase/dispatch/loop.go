package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RunForever repeats passes until ctx is cancelled. The current pass runs
// to completion before the loop exits, so state is always persisted.
// A fixed sleep interval separates passes; when a cron schedule is
// configured it drives the cadence instead.
func (d *Dispatcher) RunForever(ctx context.Context) error {
	if spec := d.cfg.Schedule(); spec != "" {
		return d.runScheduled(ctx, spec)
	}

	interval := d.cfg.Interval()
	d.log.Info("starting loop: interval=%s adapter=%s", interval, d.backend.Name())
	for {
		if _, err := d.RunOnce(ctx); err != nil {
			// Scan-level failures (e.g. input dir briefly unavailable)
			// should not kill a long-lived loop; the next pass retries.
			d.log.Error("pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			d.log.Info("shutdown requested, exiting loop")
			return nil
		case <-time.After(interval):
		}
	}
}

// runScheduled fires passes on a standard 5-field cron expression.
// Passes never overlap: a pass that outlasts its slot simply delays the
// loop, and ticks that fell due meanwhile are skipped.
func (d *Dispatcher) runScheduled(ctx context.Context, spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	d.log.Info("starting loop: schedule=%q adapter=%s", spec, d.backend.Name())
	for {
		next := sched.Next(d.now())
		d.log.Debug("next pass at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Info("shutdown requested, exiting loop")
			return nil
		case <-timer.C:
		}

		if _, err := d.RunOnce(ctx); err != nil {
			d.log.Error("pass failed: %v", err)
		}
	}
}
