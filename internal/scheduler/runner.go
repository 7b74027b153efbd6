package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"badgerline/internal/config"
)

// Runner ticks the three sweeps on their configured intervals. A sweep still
// running when its next tick fires is skipped for that tick.
type Runner struct {
	scheduler Scheduler
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRunner(s Scheduler, intervals config.Scheduler) *Runner {
	logger := cron.PrintfLogger(s.logger())
	r := &Runner{
		scheduler: s,
		cron:      cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.add(intervals.ReminderInterval, SweepReminders)
	r.add(intervals.DeadlineInterval, SweepDeadlines)
	r.add(intervals.ExpirationInterval, SweepExpirations)
	return r
}

func (r *Runner) add(every time.Duration, kind string) {
	if every <= 0 {
		return
	}
	r.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		if _, err := r.scheduler.Run(r.ctx, kind); err != nil {
			r.scheduler.logger().Printf("scheduler: %s sweep failed: %v", kind, err)
		}
	}))
}

// Start begins ticking in the background.
func (r *Runner) Start() {
	r.scheduler.logger().Printf("scheduler: started with %d sweeps", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop cancels running sweeps and waits for them to return or ctx to end.
func (r *Runner) Stop(ctx context.Context) {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	r.scheduler.logger().Printf("scheduler: stopped")
}

// Entries reports the next run time per scheduled sweep.
func (r *Runner) Entries() []time.Time {
	var out []time.Time
	for _, e := range r.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}
