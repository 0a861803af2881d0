// Package gdb reaches target memory through a GDB remote serial protocol
// server, such as the one OpenOCD, pyOCD or probe-rs put in front of an SWD
// probe.
package gdb

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
)

// Config tunes the client.
type Config struct {
	// MaxReadSize and MaxWriteSize split block accesses into packets the
	// server accepts.
	MaxReadSize  int
	MaxWriteSize int
	// Retries is the number of retransmissions after a NAK.
	Retries int
}

// Default sizes.
const (
	DefaultMaxReadSize  = 1024
	DefaultMaxWriteSize = 512
	DefaultRetries      = 3
)

// Client implements channel.Memory with m/M packets. Aligned 4-byte accesses
// are carried out by the debug server as single word accesses.
type Client struct {
	conn   io.ReadWriter
	reader *bufio.Reader
	config Config
	lock   sync.Mutex
}

// New creates a Client over an established connection.
func New(conn io.ReadWriter, config Config) *Client {
	if config.MaxReadSize <= 0 {
		config.MaxReadSize = DefaultMaxReadSize
	}
	if config.MaxWriteSize <= 0 {
		config.MaxWriteSize = DefaultMaxWriteSize
	}
	if config.Retries <= 0 {
		config.Retries = DefaultRetries
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), config: config}
}

// Dial connects to a debug server at host:port.
func Dial(ctx context.Context, address string, config Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("gdb: connected to %s", address)
	return New(conn, config), nil
}

// Close implements io.Closer.
func (c *Client) Close() error {
	if closer, ok := c.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ReadWord implements channel.Memory.
func (c *Client) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	if addr%channel.WordSize != 0 {
		return 0, fmt.Errorf("%#08x: %w", addr, channel.ErrNotAligned)
	}
	var buf [4]byte
	if err := c.read(ctx, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteWord implements channel.Memory.
func (c *Client) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	if addr%channel.WordSize != 0 {
		return fmt.Errorf("%#08x: %w", addr, channel.ErrNotAligned)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return c.write(ctx, addr, buf[:])
}

// ReadBlock implements channel.Memory.
func (c *Client) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	for off := 0; off < len(buf); off += c.config.MaxReadSize {
		end := min(off+c.config.MaxReadSize, len(buf))
		if err := c.read(ctx, addr+uint32(off), buf[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlock implements channel.Memory.
func (c *Client) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += c.config.MaxWriteSize {
		end := min(off+c.config.MaxWriteSize, len(data))
		if err := c.write(ctx, addr+uint32(off), data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) read(ctx context.Context, addr uint32, buf []byte) error {
	reply, err := c.command(ctx, fmt.Sprintf("m%x,%x", addr, len(buf)))
	if err != nil {
		return err
	}
	if err = replyError(reply); err != nil {
		return fmt.Errorf("read %#08x+%d: %w", addr, len(buf), err)
	}
	data, err := hex.DecodeString(reply)
	if err != nil {
		return fmt.Errorf("read %#08x+%d: %w", addr, len(buf), err)
	}
	if len(data) != len(buf) {
		return fmt.Errorf("read %#08x+%d: got %d bytes", addr, len(buf), len(data))
	}
	copy(buf, data)
	return nil
}

func (c *Client) write(ctx context.Context, addr uint32, data []byte) error {
	reply, err := c.command(ctx, fmt.Sprintf("M%x,%x:%s", addr, len(data), hex.EncodeToString(data)))
	if err != nil {
		return err
	}
	if err = replyError(reply); err != nil {
		return fmt.Errorf("write %#08x+%d: %w", addr, len(data), err)
	}
	if reply != "OK" {
		return fmt.Errorf("write %#08x+%d: unexpected reply %q", addr, len(data), reply)
	}
	return nil
}

// command sends a packet and returns the reply packet.
func (c *Client) command(ctx context.Context, cmd string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if conn, ok := c.conn.(net.Conn); ok {
		deadline, _ := ctx.Deadline()
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	glog.V(4).Infof("gdb: -> %s", cmd)
	for attempt := 0; ; attempt++ {
		if err := writePacket(c.conn, cmd); err != nil {
			return "", err
		}
		ack, err := c.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if ack == '+' {
			break
		}
		if attempt >= c.config.Retries {
			return "", ErrNack
		}
	}
	for attempt := 0; ; attempt++ {
		reply, err := readPacket(c.reader)
		if errors.Is(err, ErrChecksum) && attempt < c.config.Retries {
			if _, err = c.conn.Write([]byte{'-'}); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", err
		}
		glog.V(4).Infof("gdb: <- %s", reply)
		_, err = c.conn.Write([]byte{'+'})
		return reply, err
	}
}

// replyError decodes an Exx reply. Hex data always has an even length, so a
// 3 character reply starting with E is an error.
func replyError(reply string) error {
	if len(reply) == 3 && reply[0] == 'E' {
		return fmt.Errorf("gdb error %s: %w", reply[1:], channel.ErrOutOfRange)
	}
	return nil
}
