package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	sched := NewScheduler(zaptest.NewLogger(t))
	t.Cleanup(sched.Stop)

	err := sched.AddJob("broken", "every hour please", func(context.Context) {})
	assert.Error(t, err)

	require.NoError(t, sched.AddJob("hourly", "0 * * * *", func(context.Context) {}))
}

func TestSchedulerStartStop(t *testing.T) {
	sched := NewScheduler(nil)
	assert.False(t, sched.IsRunning())

	sched.Start()
	sched.Start()
	assert.True(t, sched.IsRunning())

	sched.Stop()
	sched.Stop()
	assert.False(t, sched.IsRunning())
}

func TestSweeperScheduleRunsAndCancelsOnStop(t *testing.T) {
	records := newMemoryRecords(record("old", 2*time.Hour))
	blobs := &recordingBlobs{}
	sweeper := NewSweeper(records, blobs, time.Hour, fixedClock{sweepNow}, zaptest.NewLogger(t))

	sched := NewScheduler(zaptest.NewLogger(t))
	require.NoError(t, sweeper.Schedule(sched, "* * * * *"))
	sched.Start()
	require.NoError(t, sched.cron.RunByTag("retention_sweep"))

	assert.Eventually(t, func() bool {
		records.mu.Lock()
		defer records.mu.Unlock()
		return len(records.records) == 0
	}, 2*time.Second, 10*time.Millisecond)

	sched.Stop()
	select {
	case <-sched.ctx.Done():
	default:
		t.Fatal("job context not cancelled by Stop")
	}
}
