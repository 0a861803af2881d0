package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge/msgs"
	"github.com/robotalks/corpc/pkg/link"
	"github.com/robotalks/corpc/pkg/rpc"
)

// Grace is added to a call timeout while waiting for the bridge to reply,
// covering the link round trip.
const Grace = 500 * time.Millisecond

var (
	// ErrClosed indicates the link is gone.
	ErrClosed = errors.New("bridge closed")
)

// RemoteError is a call failure reported by the bridge.
type RemoteError struct {
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return "bridge: " + e.Message
}

// Conn implements rpc.Caller through a bridge.
type Conn struct {
	Timeout time.Duration

	rw      link.PacketReadWriter
	id      uint32
	pending map[uint32]chan *msgs.CallReply
	err     error
	lock    sync.Mutex
	done    chan struct{}
}

// NewConn wraps a link to a bridge and starts reading replies.
func NewConn(rw link.PacketReadWriter) *Conn {
	c := &Conn{
		Timeout: rpc.DefaultTimeout,
		rw:      rw,
		pending: make(map[uint32]chan *msgs.CallReply),
		done:    make(chan struct{}),
	}
	go c.readReplies()
	return c
}

// Close closes the link and waits for the reader to exit.
func (c *Conn) Close() error {
	closer, ok := c.rw.(io.Closer)
	if !ok {
		return nil
	}
	err := closer.Close()
	<-c.done
	return err
}

// Call implements rpc.Caller.
func (c *Conn) Call(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) (*rpc.Response, error) {
	if timeout <= 0 {
		timeout = c.Timeout
	}
	ch := make(chan *msgs.CallReply, 1)
	c.lock.Lock()
	if c.err != nil {
		err := c.err
		c.lock.Unlock()
		return nil, err
	}
	if c.id++; c.id == 0 {
		c.id++
	}
	req := &msgs.CallRequest{
		Id:        c.id,
		Opcode:    opcode,
		Payload:   payload,
		TimeoutMs: uint32(timeout / time.Millisecond),
	}
	c.pending[req.Id] = ch
	c.lock.Unlock()

	pkt, err := msgs.Encode(req)
	if err == nil {
		err = c.rw.WritePacket(pkt)
	}
	if err != nil {
		c.forget(req.Id)
		return nil, err
	}

	timer := time.NewTimer(timeout + Grace)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, c.failure()
		}
		return replyResult(reply)
	case <-timer.C:
		c.forget(req.Id)
		return nil, rpc.ErrTimeout
	case <-ctx.Done():
		c.forget(req.Id)
		return nil, ctx.Err()
	}
}

// Go implements rpc.Caller.
func (c *Conn) Go(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) *rpc.Call {
	return rpc.GoCall(opcode, payload, func() (*rpc.Response, error) {
		return c.Call(ctx, opcode, payload, timeout)
	})
}

func replyResult(reply *msgs.CallReply) (*rpc.Response, error) {
	switch reply.Error {
	case "":
		return &rpc.Response{Status: rpc.Status(reply.Status), Data: reply.Payload}, nil
	case rpc.ErrTimeout.Error():
		return nil, rpc.ErrTimeout
	}
	return nil, &RemoteError{Message: reply.Error}
}

func (c *Conn) forget(id uint32) {
	c.lock.Lock()
	delete(c.pending, id)
	c.lock.Unlock()
}

func (c *Conn) failure() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

func (c *Conn) readReplies() {
	defer close(c.done)
	var err error
	for {
		var pkt []byte
		if pkt, err = c.rw.ReadPacket(); err != nil {
			break
		}
		msg, decodeErr := msgs.Decode(pkt)
		if decodeErr != nil {
			glog.Warningf("bridge: drop packet: %v", decodeErr)
			continue
		}
		reply, ok := msg.(*msgs.CallReply)
		if !ok {
			continue
		}
		c.lock.Lock()
		ch := c.pending[reply.Id]
		delete(c.pending, reply.Id)
		c.lock.Unlock()
		if ch == nil {
			glog.V(1).Infof("bridge: drop reply %d", reply.Id)
			continue
		}
		ch <- reply
	}

	glog.V(1).Infof("bridge: link closed: %v", err)
	c.lock.Lock()
	c.err = fmt.Errorf("%v: %w", err, ErrClosed)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.lock.Unlock()
}
