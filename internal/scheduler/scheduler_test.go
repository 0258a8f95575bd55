package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRepeatFiresAndStops(t *testing.T) {
	var fired atomic.Int32
	task := Repeat("tick", 5*time.Millisecond, testLogger(), func(ctx context.Context) {
		fired.Add(1)
	})

	require.Eventually(t, func() bool {
		return fired.Load() >= 2
	}, time.Second, time.Millisecond)

	task.Stop()
	after := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fired.Load(), "no iterations after Stop")
}

func TestStopIsIdempotent(t *testing.T) {
	task := Repeat("noop", time.Hour, testLogger(), func(ctx context.Context) {})
	task.Stop()
	task.Stop()
}

func TestPollStopsWhenDone(t *testing.T) {
	var attempts atomic.Int32
	task := Poll("poll", time.Millisecond, 0, testLogger(), func(ctx context.Context, attempt int) bool {
		attempts.Add(1)
		return attempt == 3
	}, nil)
	defer task.Stop()

	require.Eventually(t, func() bool {
		return attempts.Load() == 3
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPollExhaustsAttemptBudget(t *testing.T) {
	var attempts atomic.Int32
	exhausted := make(chan struct{})
	task := Poll("stuck", time.Millisecond, 5, testLogger(), func(ctx context.Context, attempt int) bool {
		attempts.Add(1)
		return false
	}, func() {
		close(exhausted)
	})
	defer task.Stop()

	select {
	case <-exhausted:
	case <-time.After(time.Second):
		t.Fatal("exhaustion callback never fired")
	}
	assert.Equal(t, int32(5), attempts.Load())
}

func TestPollStopCancelsBeforeFirstAttempt(t *testing.T) {
	var attempts atomic.Int32
	task := Poll("idle", time.Hour, 10, testLogger(), func(ctx context.Context, attempt int) bool {
		attempts.Add(1)
		return false
	}, nil)

	done := make(chan struct{})
	go func() {
		task.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an idle poll")
	}
	assert.Equal(t, int32(0), attempts.Load())
}

func TestTaskDoneSignalsCompletion(t *testing.T) {
	task := Poll("one-shot", time.Millisecond, 1, testLogger(), func(ctx context.Context, attempt int) bool {
		return true
	}, nil)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed after the task finished")
	}
	task.Stop()
}

func TestNilTaskStopIsNoop(t *testing.T) {
	var task *Task
	task.Stop()
}

func TestRunnerDispatchesCronJobs(t *testing.T) {
	runner := NewRunner(testLogger())
	fired := make(chan struct{}, 8)
	require.NoError(t, runner.Add("every-second", "* * * * * *", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))
	runner.Start()
	defer runner.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cron job never fired")
	}
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	runner := NewRunner(testLogger())
	assert.Error(t, runner.Add("bad", "not a cron spec", func() {}))
}
