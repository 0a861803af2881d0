package framework

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the idle wait between two sweeps with no work done.
const DefaultInterval = time.Millisecond

// Loop drives Pollers cooperatively from a single goroutine. Each sweep calls
// every poller once, by priority level. A sweep that did some work is followed
// by another one straight away; otherwise the loop idles for Interval or until
// TriggerNext.
type Loop struct {
	Interval time.Duration

	pollers [PriorityLevels][]Poller
	runners []Runnable
	lock    sync.Mutex

	wakeUpCh chan struct{}
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{Interval: DefaultInterval, wakeUpCh: make(chan struct{}, 1)}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddPoller registers pollers at a priority level. Pollers which are also
// Runnable are started with the loop.
func (l *Loop) AddPoller(priorityLevel int, pollers ...Poller) *Loop {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.pollers[priorityLevel] = append(l.pollers[priorityLevel], pollers...)
	for _, p := range pollers {
		if runner, ok := p.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	l.lock.Lock()
	runners := l.runners
	l.lock.Unlock()

	runner := NewRunnerWith(ctx)
	runner.Go(runners...)
	defer runner.Wait()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if l.Sweep(ctx) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-l.wakeUpCh:
		}
	}
}

// RunOrFail is intended to be used in main to simply run the loop until
// interrupted.
func (l *Loop) RunOrFail() {
	if err := NewRunner().HandleSignals().Go(l).Wait(); err != nil {
		glog.Exit(err)
	}
}

// Sweep polls every registered poller once and reports whether any of them
// did some work. Poller errors are logged and don't stop the sweep.
func (l *Loop) Sweep(ctx context.Context) (busy bool) {
	for i := 0; i < PriorityLevels; i++ {
		l.lock.Lock()
		pollers := l.pollers[i]
		l.lock.Unlock()
		for _, p := range pollers {
			worked, err := p.Poll(ctx)
			if err != nil {
				glog.Errorf("poller error: %v", err)
			}
			busy = busy || worked
		}
	}
	return
}

// TriggerNext schedules the next sweep immediately.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}
