package memlink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/link"
)

// Client implements channel.Memory and channel.Fencer against a Server on
// the other end of a link. Replies are matched to requests by id; a reply
// arriving after its request gave up is dropped.
type Client struct {
	rw link.PacketReadWriter

	lock    sync.Mutex
	id      uint32
	pending map[uint32]chan *Reply
	err     error
	done    chan struct{}
}

// NewClient wraps a link and starts reading replies.
func NewClient(rw link.PacketReadWriter) *Client {
	c := &Client{
		rw:      rw,
		pending: make(map[uint32]chan *Reply),
		done:    make(chan struct{}),
	}
	go c.readReplies()
	return c
}

// Close closes the link and waits for the reader to exit.
func (c *Client) Close() error {
	closer, ok := c.rw.(io.Closer)
	if !ok {
		return nil
	}
	err := closer.Close()
	<-c.done
	return err
}

// ReadWord implements channel.Memory.
func (c *Client) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	rep, err := c.do(ctx, &Request{Op: OpReadWord, Addr: addr, Length: channel.WordSize})
	if err != nil {
		return 0, err
	}
	if len(rep.Data) != int(channel.WordSize) {
		return 0, fmt.Errorf("read word %#08x: %d bytes: %w", addr, len(rep.Data), ErrBadPacket)
	}
	return binary.LittleEndian.Uint32(rep.Data), nil
}

// WriteWord implements channel.Memory.
func (c *Client) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	data := make([]byte, channel.WordSize)
	binary.LittleEndian.PutUint32(data, value)
	_, err := c.do(ctx, &Request{Op: OpWriteWord, Addr: addr, Length: channel.WordSize, Data: data})
	return err
}

// ReadBlock implements channel.Memory.
func (c *Client) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	rep, err := c.do(ctx, &Request{Op: OpReadBlock, Addr: addr, Length: uint32(len(buf))})
	if err != nil {
		return err
	}
	if len(rep.Data) != len(buf) {
		return fmt.Errorf("read block %#08x: %d of %d bytes: %w", addr, len(rep.Data), len(buf), ErrBadPacket)
	}
	copy(buf, rep.Data)
	return nil
}

// WriteBlock implements channel.Memory.
func (c *Client) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	_, err := c.do(ctx, &Request{Op: OpWriteBlock, Addr: addr, Length: uint32(len(data)), Data: data})
	return err
}

// Fence implements channel.Fencer. The server fences its own memory, and the
// reply orders everything issued before it.
func (c *Client) Fence(ctx context.Context) error {
	_, err := c.do(ctx, &Request{Op: OpFence})
	return err
}

func (c *Client) do(ctx context.Context, req *Request) (*Reply, error) {
	ch := make(chan *Reply, 1)
	c.lock.Lock()
	if c.err != nil {
		err := c.err
		c.lock.Unlock()
		return nil, err
	}
	c.id++
	req.ID = c.id
	c.pending[req.ID] = ch
	c.lock.Unlock()

	if err := c.rw.WritePacket(req.Encode()); err != nil {
		c.forget(req.ID)
		return nil, err
	}
	select {
	case rep, ok := <-ch:
		if !ok {
			return nil, c.failure()
		}
		if err := rep.Err(); err != nil {
			return nil, fmt.Errorf("op %d at %#08x: %w", req.Op, req.Addr, err)
		}
		return rep, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint32) {
	c.lock.Lock()
	delete(c.pending, id)
	c.lock.Unlock()
}

func (c *Client) failure() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

func (c *Client) readReplies() {
	defer close(c.done)
	var err error
	for {
		var pkt []byte
		if pkt, err = c.rw.ReadPacket(); err != nil {
			break
		}
		rep, decodeErr := DecodeReply(pkt)
		if decodeErr != nil {
			glog.Warningf("memlink: drop packet: %v", decodeErr)
			continue
		}
		c.lock.Lock()
		ch := c.pending[rep.ID]
		delete(c.pending, rep.ID)
		c.lock.Unlock()
		if ch == nil {
			glog.V(2).Infof("memlink: drop reply %d", rep.ID)
			continue
		}
		ch <- rep
	}

	glog.V(1).Infof("memlink: link closed: %v", err)
	c.lock.Lock()
	c.err = fmt.Errorf("%v: %w", err, ErrClosed)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.lock.Unlock()
}
