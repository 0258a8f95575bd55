// Package scheduler provides cancellable periodic tasks. The aggregator's
// background refresh and the assessment pollers all run on Task handles so
// teardown is an explicit Stop, never an orphaned timer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a handle on a recurring job. Stop is idempotent and returns after
// the current iteration, if any, has finished.
type Task struct {
	name string
	stop chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Name identifies the task in logs.
func (t *Task) Name() string { return t.name }

// Stop cancels the task and waits for in-flight work to finish. Calling Stop
// on a nil task is a no-op.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// Done is closed when the task's goroutine has exited, whether it ran to
// completion or was stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Repeat runs fn every interval until the task is stopped. The first run
// happens after one interval, not immediately; callers wanting an immediate
// pass run fn themselves first.
func Repeat(name string, interval time.Duration, logger *slog.Logger, fn func(ctx context.Context)) *Task {
	t := &Task{name: name, stop: make(chan struct{}), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	t.wg.Add(1)
	go func() {
		defer close(t.done)
		defer t.wg.Done()
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				logger.Debug("task stopped", "task", name)
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return t
}

// Poll runs fn every interval until fn reports done, maxAttempts is reached
// or the task is stopped. onExhausted, if set, fires when the attempt budget
// runs out before fn is done.
func Poll(name string, interval time.Duration, maxAttempts int, logger *slog.Logger, fn func(ctx context.Context, attempt int) (done bool), onExhausted func()) *Task {
	t := &Task{name: name, stop: make(chan struct{}), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	t.wg.Add(1)
	go func() {
		defer close(t.done)
		defer t.wg.Done()
		defer cancel()
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for attempt := 1; ; attempt++ {
			select {
			case <-t.stop:
				logger.Debug("poll stopped", "task", name, "attempt", attempt)
				return
			case <-timer.C:
			}
			if fn(ctx, attempt) {
				return
			}
			if maxAttempts > 0 && attempt >= maxAttempts {
				logger.Warn("poll attempts exhausted", "task", name, "attempts", attempt)
				if onExhausted != nil {
					onExhausted()
				}
				return
			}
			timer.Reset(interval)
		}
	}()
	return t
}

// Runner schedules cron-expression jobs (with seconds precision) on top of
// the ad hoc Task handles, for calendar-style work such as the off-peak
// forced refresh.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRunner creates a stopped Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger: logger,
	}
}

// Add schedules fn under the given cron spec.
func (r *Runner) Add(name, spec string, fn func()) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.logger.Debug("cron job firing", "job", name)
		fn()
	})
	return err
}

// Start begins dispatching jobs.
func (r *Runner) Start() { r.cron.Start() }

// Stop halts dispatch and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
