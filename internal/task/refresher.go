package task

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GregdeFoy/Zettl/internal/store"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

// Refresher rebuilds the materialized tag aggregate on a cron schedule.
// The aggregate is eventually consistent by design; the schedule bounds the
// staleness clients can observe through tag_counts.
type Refresher struct {
	store    *store.Store
	logger   *logger.Logger
	schedule string
	cron     *cron.Cron
}

// NewRefresher creates a refresher with a cron schedule such as
// "@every 5m" or "0 */10 * * * *".
func NewRefresher(st *store.Store, log *logger.Logger, schedule string) *Refresher {
	return &Refresher{
		store:    st,
		logger:   log,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the job and begins the schedule. An immediate first
// refresh runs synchronously under the caller's context so the aggregate is
// populated before the first tick.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}

	r.refresh(ctx)

	r.cron.Start()
	r.logger.Infof("Tag aggregate refresher started with schedule %q", r.schedule)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish
func (r *Refresher) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("Tag aggregate refresher stopped")
}

func (r *Refresher) run() {
	r.refresh(context.Background())
}

func (r *Refresher) refresh(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := r.store.RefreshTagCounts(ctx); err != nil {
		r.logger.Errorf("Tag aggregate refresh failed: %v", err)
		return
	}
	r.logger.Infof("Tag aggregate refreshed in %s", time.Since(start).Round(time.Millisecond))
}
