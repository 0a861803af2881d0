package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/link/serial"
	"github.com/robotalks/corpc/pkg/link/stream"
	"github.com/robotalks/corpc/pkg/link/websocket"
	"github.com/robotalks/corpc/pkg/memlink"
	"github.com/robotalks/corpc/pkg/rpc"
	"github.com/robotalks/corpc/pkg/transport/gdb"
	"github.com/robotalks/corpc/pkg/transport/modbus"
)

// ErrUnknownScheme indicates the link URL scheme has no transport.
var ErrUnknownScheme = errors.New("unknown link scheme")

// Memory is target memory reached over a link which must be closed.
type Memory interface {
	channel.Memory
	io.Closer
}

// Dial opens the memory link named by c.Link.
func (c *Config) Dial(ctx context.Context) (Memory, error) {
	u, err := url.Parse(c.Link)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %w", err)
	}
	glog.V(1).Infof("env: dialing %s", c.Link)
	switch u.Scheme {
	case "tcp":
		rw, err := stream.Dial(u.Host)
		if err != nil {
			return nil, err
		}
		return memlink.NewClient(rw), nil
	case "ws", "wss":
		rw, err := websocket.Dial(c.Link)
		if err != nil {
			return nil, err
		}
		return memlink.NewClient(rw), nil
	case "serial":
		rw, err := serial.Dial(c.Link)
		if err != nil {
			return nil, err
		}
		return memlink.NewClient(rw), nil
	case "gdb":
		var conf gdb.Config
		query := u.Query()
		if conf.MaxReadSize, err = queryInt(query, "max-read", 0); err != nil {
			return nil, err
		}
		if conf.MaxWriteSize, err = queryInt(query, "max-write", 0); err != nil {
			return nil, err
		}
		client, err := gdb.Dial(ctx, u.Host, conf)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "modbus":
		return dialModbus(u, c.Timeout)
	default:
		return nil, fmt.Errorf("%q: %w", u.Scheme, ErrUnknownScheme)
	}
}

func dialModbus(u *url.URL, timeout time.Duration) (Memory, error) {
	query := u.Query()
	conf := modbus.Config{Endpoint: u.Host, Timeout: timeout, SlaveID: 1}
	unit, err := queryInt(query, "unit", int(conf.SlaveID))
	if err != nil {
		return nil, err
	}
	conf.SlaveID = byte(unit)
	if val := query.Get("base"); val != "" {
		base, err := ParseAddress(val)
		if err != nil {
			return nil, err
		}
		conf.Base = uint32(base)
	}
	register, err := queryInt(query, "register", 0)
	if err != nil {
		return nil, err
	}
	conf.Register = uint16(register)
	mem, err := modbus.Dial(conf)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func queryInt(query url.Values, name string, def int) (int, error) {
	val := query.Get(name)
	if val == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(val, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("link parameter %s: %w", name, err)
	}
	return int(n), nil
}

// RPCConfig creates the rpc.Config of the k-th slot.
func (c *Config) RPCConfig(k int) rpc.Config {
	offset := uint32(k) * uint32(c.Stride)
	return rpc.Config{
		Command:  uint32(c.Command) + offset,
		Response: uint32(c.Response) + offset,
		Options:  channel.Options{Barrier: c.Barrier},
		Timeout:  c.Timeout,
	}
}

// Conn is a Caller over a dialed link. With more than one slot, calls are
// spread over a Pool.
type Conn struct {
	rpc.Caller
	Memory Memory
	Pool   *rpc.Pool
}

// Connect dials the link and attaches a client to every slot.
func (c *Config) Connect(ctx context.Context, observer rpc.CallObserver) (*Conn, error) {
	mem, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	clients := make([]*rpc.Client, 0, c.Slots)
	for k := 0; k < c.Slots; k++ {
		conf := c.RPCConfig(k)
		conf.Observer = observer
		client, err := rpc.Attach(ctx, mem, conf)
		if err != nil {
			mem.Close()
			return nil, fmt.Errorf("slot %d: %w", k, err)
		}
		clients = append(clients, client)
	}
	conn := &Conn{Memory: mem, Pool: rpc.NewPool(clients...)}
	conn.Caller = conn.Pool
	if len(clients) == 1 {
		conn.Caller = clients[0]
	}
	glog.Infof("env: connected to %s, %d slot(s), capacity %d", c.Link, len(clients), clients[0].Capacity())
	return conn, nil
}

// NewClient dials the link and attaches a client to the first slot.
func (c *Config) NewClient(ctx context.Context) (*rpc.Client, Memory, error) {
	mem, err := c.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := rpc.Attach(ctx, mem, c.RPCConfig(0))
	if err != nil {
		mem.Close()
		return nil, nil, err
	}
	return client, mem, nil
}

// Close closes the link.
func (c *Conn) Close() error {
	return c.Memory.Close()
}
