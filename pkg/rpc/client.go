package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultPollInterval = time.Millisecond
	DefaultTimeout      = time.Second
)

// Caller is implemented by Client and Pool.
type Caller interface {
	Call(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) (*Response, error)
	Go(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) *Call
}

// Config defines the controller side of a channel pair.
type Config struct {
	// Command and Response are the base addresses of the regions, used by
	// Attach. The target initializes the regions and publishes the sizes.
	Command  uint32
	Response uint32
	Options  channel.Options
	// PollInterval is the pause between empty polls of the response region.
	PollInterval time.Duration
	// Timeout is used by calls passing a timeout <= 0.
	Timeout time.Duration
	// Sequence seeds the first issued sequence, 0 picks one from the clock.
	Sequence uint32
	Observer CallObserver
}

// Client issues calls over one channel pair. Calls are serialized: a second
// call waits for the first to complete or time out.
type Client struct {
	cmd     *channel.Region
	rsp     *channel.Region
	tracker *Tracker
	config  Config

	// busy holds a token while a call owns the channel pair.
	busy chan struct{}

	lock  sync.Mutex
	fatal error
}

// Attach attaches to regions initialized by the target and creates a Client.
func Attach(ctx context.Context, mem channel.Memory, config Config) (*Client, error) {
	cmd, err := channel.Attach(ctx, mem, config.Command, config.Options)
	if err != nil {
		return nil, fmt.Errorf("command region: %w", err)
	}
	rsp, err := channel.Attach(ctx, mem, config.Response, config.Options)
	if err != nil {
		return nil, fmt.Errorf("response region: %w", err)
	}
	return NewClient(cmd, rsp, config), nil
}

// NewClient creates a Client over regions whose layout is already known.
// config.Command and config.Response are ignored.
func NewClient(cmd, rsp *channel.Region, config Config) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Sequence == 0 {
		config.Sequence = NewSequence()
	}
	return &Client{
		cmd:     cmd,
		rsp:     rsp,
		tracker: NewTracker(config.Sequence),
		config:  config,
		busy:    make(chan struct{}, 1),
	}
}

// Capacity returns the largest payload a command can carry.
func (c *Client) Capacity() int {
	return c.cmd.Capacity()
}

// ResponseCapacity returns the largest payload a response can carry.
func (c *Client) ResponseCapacity() int {
	return c.rsp.Capacity()
}

// Err returns the sticky error once the response region is found corrupt.
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fatal
}

// Call publishes a command and waits for its response. A returned
// *Response may still carry a non-OK Status; only transport failures,
// ErrTimeout and ctx errors are returned as error. The timeout includes
// waiting for an earlier call on the same Client.
func (c *Client) Call(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) (*Response, error) {
	if len(payload) > c.cmd.Capacity() {
		return nil, fmt.Errorf("command payload %d bytes, capacity %d: %w",
			len(payload), c.cmd.Capacity(), channel.ErrPayloadTooLarge)
	}
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	start := time.Now()
	rsp, err := c.call(ctx, opcode, payload, start.Add(timeout))
	if o := c.config.Observer; o != nil {
		var status Status
		if rsp != nil {
			status = rsp.Status
		}
		o.CallDone(opcode, status, err, time.Since(start))
	}
	return rsp, err
}

// Go starts a call in the background. It behaves exactly like Call.
func (c *Client) Go(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) *Call {
	return GoCall(opcode, payload, func() (*Response, error) {
		return c.Call(ctx, opcode, payload, timeout)
	})
}

func (c *Client) call(ctx context.Context, opcode uint32, payload []byte, deadline time.Time) (*Response, error) {
	if err := c.acquire(ctx, deadline); err != nil {
		return nil, err
	}
	defer func() { <-c.busy }()
	if err := c.Err(); err != nil {
		return nil, err
	}
	return c.exchange(ctx, opcode, payload, deadline)
}

// acquire takes the channel pair, giving up at the deadline.
func (c *Client) acquire(ctx context.Context, deadline time.Time) error {
	select {
	case c.busy <- struct{}{}:
		return nil
	default:
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		return ErrTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case c.busy <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) exchange(ctx context.Context, opcode uint32, payload []byte, deadline time.Time) (*Response, error) {
	// nothing is published for a caller which already gave up.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq := c.tracker.Begin()
	cmd := channel.Frame{Sequence: seq, Code: opcode, Payload: payload}

	// the target only consumes a command while the response region is free,
	// so stale responses are drained while waiting for the command region.
	for {
		if err := c.drain(ctx); err != nil {
			c.tracker.Abandon()
			return nil, err
		}
		err := c.cmd.Publish(ctx, cmd)
		if err == nil {
			break
		}
		if !errors.Is(err, channel.ErrBusy) {
			c.tracker.Abandon()
			return nil, err
		}
		if err = c.pause(ctx, deadline); err != nil {
			glog.V(1).Infof("rpc: seq %d opcode %#x not published: %v", seq, opcode, err)
			c.tracker.Abandon()
			return nil, err
		}
	}

	for {
		f, err := c.poll(ctx)
		if err != nil {
			c.tracker.Abandon()
			return nil, err
		}
		if f != nil {
			if c.tracker.Match(f.Sequence) == MatchCurrent {
				c.tracker.Complete()
				return &Response{Sequence: f.Sequence, Status: Status(f.Code), Data: f.Payload}, nil
			}
			c.discard(f)
			continue
		}
		if err = c.pause(ctx, deadline); err != nil {
			glog.V(1).Infof("rpc: seq %d opcode %#x abandoned: %v", seq, opcode, err)
			c.tracker.Abandon()
			return nil, err
		}
	}
}

// drain discards a response left over from an abandoned call.
func (c *Client) drain(ctx context.Context) error {
	f, err := c.poll(ctx)
	if err == nil && f != nil {
		c.discard(f)
	}
	return err
}

func (c *Client) poll(ctx context.Context) (*channel.Frame, error) {
	f, err := c.rsp.Poll(ctx)
	if err != nil && errors.Is(err, channel.ErrChannelCorrupt) {
		glog.Errorf("rpc: response region %s: %v", c.rsp.Layout(), err)
		c.lock.Lock()
		c.fatal = err
		c.lock.Unlock()
	}
	return f, err
}

func (c *Client) discard(f *channel.Frame) {
	abandoned := c.tracker.Match(f.Sequence) == MatchAbandoned
	if abandoned {
		glog.V(1).Infof("rpc: discard late response seq %d status %s", f.Sequence, Status(f.Code))
	} else {
		glog.Warningf("rpc: discard unexpected response seq %d status %s", f.Sequence, Status(f.Code))
	}
	if o := c.config.Observer; o != nil {
		o.StaleFrame(f.Sequence, abandoned)
	}
}

// pause waits one poll interval, bounded by the deadline.
func (c *Client) pause(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return ErrTimeout
	}
	if wait > c.config.PollInterval {
		wait = c.config.PollInterval
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
