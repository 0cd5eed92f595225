package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func countingTask(name string, interval time.Duration, calls *atomic.Int32) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 1, nil
		},
	}
}

func TestNewService(t *testing.T) {
	svc := NewService(nil)
	require.NotNil(t, svc)
	assert.NotNil(t, svc.log)
	assert.NotNil(t, svc.stopChan)
}

func TestService_StartStop(t *testing.T) {
	var calls atomic.Int32
	svc := NewService(nil, countingTask("tick", 10*time.Millisecond, &calls))

	svc.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	svc.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	// a second Stop is a no-op
	svc.Stop()
}

func TestService_RunOnStart(t *testing.T) {
	var calls atomic.Int32
	task := countingTask("boot", time.Hour, &calls)
	task.RunOnStart = true

	svc := NewService(nil, task)
	svc.Start()
	defer svc.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_SkipsInvalidTasks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var calls atomic.Int32

	svc := NewService(zap.New(core),
		countingTask("no-interval", 0, &calls),
		Task{Name: "no-run", Interval: time.Millisecond},
	)
	svc.Start()
	time.Sleep(20 * time.Millisecond)
	svc.Stop()

	assert.Zero(t, calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("cron task skipped").Len())
}

func TestService_StopCancelsRunningTask(t *testing.T) {
	running := make(chan struct{})
	svc := NewService(nil, Task{
		Name:       "slow",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) (int, error) {
			close(running)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})

	svc.Start()
	<-running

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestService_RunNow(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := NewService(zap.New(core),
		Task{Name: "sweep", Interval: time.Hour, Run: func(ctx context.Context) (int, error) { return 3, nil }},
		Task{Name: "broken", Interval: time.Hour, Run: func(ctx context.Context) (int, error) { return 0, errors.New("boom") }},
	)

	n, err := svc.RunNow("sweep")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	entries := logs.FilterMessage("cron task finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["handled"])

	_, err = svc.RunNow("broken")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, logs.FilterMessage("cron task failed").Len())

	_, err = svc.RunNow("missing")
	assert.Error(t, err)
}
