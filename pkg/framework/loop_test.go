package framework

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopSweepOrder(t *testing.T) {
	var order []string
	l := NewLoop()
	l.AddPoller(PrLvLow, PollFunc(func(context.Context) (bool, error) {
		order = append(order, "low")
		return false, nil
	}))
	l.AddPoller(PrLvTop, PollFunc(func(context.Context) (bool, error) {
		order = append(order, "top")
		return true, errors.New("ignored")
	}))
	require.True(t, l.Sweep(context.Background()))
	require.Equal(t, []string{"top", "low"}, order)
}

func TestLoopDrainsWork(t *testing.T) {
	var pending int32 = 5
	var calls int32
	l := NewLoop()
	l.Interval = time.Hour
	l.AddPoller(PrLvDispatch, PollFunc(func(context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&pending) == 0 {
			return false, nil
		}
		atomic.AddInt32(&pending, -1)
		return true, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&pending) == 0 }, time.Second, time.Millisecond)

	before := atomic.LoadInt32(&calls)
	atomic.StoreInt32(&pending, 1)
	l.TriggerNext()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) > before+1 }, time.Second, time.Millisecond)

	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestRunnerAggregatesErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	r := NewRunner()
	r.Go(
		RunFunc(func(context.Context) error { return errA }),
		NamedRun("b", RunFunc(func(context.Context) error { return errB })),
		RunFunc(func(context.Context) error { return context.Canceled }),
	)
	err := r.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, errA))
	require.True(t, errors.Is(err, errB))
}

func TestRunnerStopOnExit(t *testing.T) {
	r := NewRunner().StopOnExit()
	r.Go(
		RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		RunFunc(func(context.Context) error { return nil }),
	)
	require.NoError(t, r.Wait())
}
