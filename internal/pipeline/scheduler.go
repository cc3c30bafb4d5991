package pipeline

// scheduler.go re-runs the startup scan on a cron schedule to pick up files
// whose notifications the OS dropped. The tracker makes repeated scans cheap:
// unchanged files are deduplicated before any parsing.

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRescan runs Scan on schedule until ctx is cancelled. A rescan still
// running when the next one is due is skipped. An empty schedule returns at once.
func (p *Pipeline) StartRescan(ctx context.Context, schedule string) error {
	if schedule == "" {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { p.runRescan(ctx) }); err != nil {
		return fmt.Errorf("invalid rescan schedule %q: %w", schedule, err)
	}

	p.log.Info("rescan scheduler started", "schedule", schedule)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	p.log.Info("rescan scheduler stopped")
	return nil
}

// runRescan performs one scheduled scan.
func (p *Pipeline) runRescan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.log.Debug("rescan started")
	start := time.Now()

	outcomes, err := p.Scan(ctx)
	if err != nil {
		p.log.Error("rescan failed", "error", err)
		return
	}

	loaded := 0
	for _, o := range outcomes {
		if o.State == StateRecorded {
			loaded++
		}
	}
	p.log.Info("rescan completed",
		"files", len(outcomes),
		"loaded", loaded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
