package framework

import (
	"context"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// Poller performs a bounded amount of work per call and never waits for work
// to arrive. It reports whether anything was done so the loop can sweep again
// immediately instead of idling.
type Poller interface {
	Poll(context.Context) (bool, error)
}

// PollFunc is the func form of Poller.
type PollFunc func(context.Context) (bool, error)

// Poll implements Poller.
func (f PollFunc) Poll(ctx context.Context) (bool, error) {
	return f(ctx)
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 4

// Predefined priority levels, lower runs first in a sweep.
const (
	PrLvTop    int = 0
	PrLvNormal int = 1
	PrLvLow    int = 2
	PrLvIdle   int = PriorityLevels - 1

	// PrLvDispatch is the alias of priority level for channel dispatchers.
	PrLvDispatch = PrLvTop
)
