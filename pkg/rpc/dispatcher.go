package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/framework"
)

// DuplicatePolicy decides what Register does with an opcode already registered.
type DuplicatePolicy int

// Duplicate policies.
const (
	// DuplicateReplace replaces the existing handler.
	DuplicateReplace DuplicatePolicy = iota
	// DuplicateReject fails with ErrDuplicateOpcode.
	DuplicateReject
)

// Slot is one channel pair served by a Dispatcher.
type Slot struct {
	Command  *channel.Region
	Response *channel.Region
}

// InitSlot initializes a command and a response region on the target.
func InitSlot(ctx context.Context, mem channel.Memory, cmd, rsp channel.Layout, opts channel.Options) (Slot, error) {
	var s Slot
	var err error
	if s.Command, err = channel.Init(ctx, mem, cmd, opts); err != nil {
		return s, fmt.Errorf("command region: %w", err)
	}
	if s.Response, err = channel.Init(ctx, mem, rsp, opts); err != nil {
		return s, fmt.Errorf("response region: %w", err)
	}
	return s, nil
}

// Dispatcher is the target side. Each Poll consumes at most one command,
// runs its handler synchronously and publishes the response.
type Dispatcher struct {
	Duplicates DuplicatePolicy
	Observer   DispatchObserver

	slots []Slot
	next  int

	lock     sync.Mutex
	handlers map[uint32]Handler
	closed   bool
}

// NewDispatcher creates a Dispatcher serving the slots round-robin.
func NewDispatcher(slots ...Slot) *Dispatcher {
	return &Dispatcher{slots: slots, handlers: make(map[uint32]Handler)}
}

// Name implements framework.Named.
func (d *Dispatcher) Name() string {
	return "rpc-dispatcher"
}

// Register associates a handler with an opcode. It must happen before the
// first Poll.
func (d *Dispatcher) Register(opcode uint32, h Handler) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return ErrRegistrationClosed
	}
	if _, exist := d.handlers[opcode]; exist {
		if d.Duplicates == DuplicateReject {
			return fmt.Errorf("opcode %#x: %w", opcode, ErrDuplicateOpcode)
		}
		glog.Warningf("rpc: handler for opcode %#x replaced", opcode)
	}
	d.handlers[opcode] = h
	return nil
}

// HandleFunc registers a func as handler.
func (d *Dispatcher) HandleFunc(opcode uint32, f func(ctx context.Context, payload []byte) ([]byte, error)) error {
	return d.Register(opcode, HandlerFunc(f))
}

// AddToLoop adds the dispatcher to the loop with the highest priority.
func (d *Dispatcher) AddToLoop(l *framework.Loop) {
	l.AddPoller(framework.PrLvDispatch, d)
}

// Poll implements framework.Poller. It reports true when a command was
// consumed.
func (d *Dispatcher) Poll(ctx context.Context) (bool, error) {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()

	n := len(d.slots)
	for i := 0; i < n; i++ {
		index := (d.next + i) % n
		done, err := d.pollSlot(ctx, d.slots[index])
		if done || err != nil {
			d.next = (index + 1) % n
			return done, err
		}
	}
	return false, nil
}

func (d *Dispatcher) pollSlot(ctx context.Context, s Slot) (bool, error) {
	// a command is only consumed when its response can be published.
	busy, err := s.Response.Pending(ctx)
	if err != nil || busy {
		return false, err
	}

	start := time.Now()
	f, err := s.Command.Poll(ctx)
	var corrupt *channel.CorruptError
	if errors.As(err, &corrupt) {
		glog.Errorf("rpc: command region %s: %v", s.Command.Layout(), err)
		if err = s.Command.Ack(ctx); err != nil {
			return false, err
		}
		if o := d.Observer; o != nil {
			o.Dispatched(corrupt.Code, StatusMalformed, time.Since(start))
		}
		return true, s.Response.Publish(ctx, channel.Frame{
			Sequence: corrupt.Sequence,
			Code:     uint32(StatusMalformed),
		})
	}
	if err != nil || f == nil {
		return false, err
	}

	start = time.Now()
	status, data := d.dispatch(ctx, f.Code, f.Payload)
	if capacity := s.Response.Capacity(); len(data) > capacity {
		if status == StatusOK {
			glog.Warningf("rpc: opcode %#x response %d bytes exceeds capacity %d",
				f.Code, len(data), capacity)
			status, data = StatusResponseTooLarge, nil
		} else {
			data = data[:capacity]
		}
	}
	if o := d.Observer; o != nil {
		o.Dispatched(f.Code, status, time.Since(start))
	}
	return true, s.Response.Publish(ctx, channel.Frame{
		Sequence: f.Sequence,
		Code:     uint32(status),
		Payload:  data,
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, opcode uint32, payload []byte) (status Status, data []byte) {
	d.lock.Lock()
	h := d.handlers[opcode]
	d.lock.Unlock()
	if h == nil {
		glog.V(1).Infof("rpc: unknown opcode %#x", opcode)
		return StatusUnknownOpcode, nil
	}

	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("rpc: opcode %#x handler panic: %v", opcode, r)
			status, data = StatusHandlerError, []byte(fmt.Sprint(r))
		}
	}()

	result, err := h.HandleCommand(ctx, payload)
	if err == nil {
		return StatusOK, result
	}
	glog.V(1).Infof("rpc: opcode %#x failed: %v", opcode, err)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Status >= StatusUser {
		return cmdErr.Status, []byte(cmdErr.Message)
	}
	return StatusHandlerError, []byte(err.Error())
}
