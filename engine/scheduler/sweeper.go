package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolbridge/toolbridge/pkg/logger"
)

// Sweeper drives ProcessDueTasks on a fixed cadence. Stop waits for an
// in-flight sweep to finish so claimed tasks reach terminal status.
type Sweeper struct {
	scheduler *Scheduler
	interval  time.Duration
	cron      *cron.Cron
	baseCtx   context.Context
}

func NewSweeper(ctx context.Context, s *Scheduler, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		scheduler: s,
		interval:  interval,
		cron:      cron.New(),
		baseCtx:   ctx,
	}
}

// Start registers the sweep job and begins ticking.
func (w *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		return fmt.Errorf("scheduler: registering sweep job: %w", err)
	}
	w.cron.Start()
	logger.FromContext(w.baseCtx).Info("task sweeper started", "interval", w.interval)
	return nil
}

func (w *Sweeper) sweep() {
	ctx := w.baseCtx
	if ctx.Err() != nil {
		return
	}
	if _, err := w.scheduler.ProcessDueTasks(ctx); err != nil {
		logger.FromContext(ctx).Error("sweep failed", "error", err)
	}
}

// Stop halts the cadence and blocks until the running sweep returns.
func (w *Sweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	logger.FromContext(w.baseCtx).Info("task sweeper stopped")
}
