package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/link/stream"
	"github.com/robotalks/corpc/pkg/rpc"
)

// fakeCaller answers by opcode.
type fakeCaller struct {
	lock     sync.Mutex
	timeouts []time.Duration
}

func (c *fakeCaller) Call(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) (*rpc.Response, error) {
	c.lock.Lock()
	c.timeouts = append(c.timeouts, timeout)
	c.lock.Unlock()
	switch opcode {
	case 1:
		return &rpc.Response{Status: rpc.StatusOK, Data: payload}, nil
	case 2:
		return &rpc.Response{Status: 0x105, Data: []byte("no sensor")}, nil
	case 3:
		return nil, rpc.ErrTimeout
	case 4:
		return nil, channel.ErrChannelCorrupt
	case 5:
		select {
		case <-time.After(timeout):
			return nil, rpc.ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &rpc.Response{Status: rpc.StatusUnknownOpcode}, nil
}

func (c *fakeCaller) Go(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) *rpc.Call {
	return rpc.GoCall(opcode, payload, func() (*rpc.Response, error) {
		return c.Call(ctx, opcode, payload, timeout)
	})
}

func newTestBridge(t *testing.T) (*Conn, *Server, *fakeCaller, func()) {
	a, b := net.Pipe()
	caller := &fakeCaller{}
	srv := NewServer(caller)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rw := stream.New(b)
	go func() {
		defer close(done)
		srv.Serve(ctx, rw)
	}()
	conn := NewConn(stream.New(a))
	return conn, srv, caller, func() {
		cancel()
		rw.Close()
		<-done
		conn.Close()
	}
}

func TestCall(t *testing.T) {
	conn, _, _, stop := newTestBridge(t)
	defer stop()

	testCases := []struct {
		name   string
		opcode uint32
		status rpc.Status
		data   []byte
		err    error
	}{
		{"echo", 1, rpc.StatusOK, []byte("hello"), nil},
		{"user status", 2, 0x105, []byte("no sensor"), nil},
		{"unknown", 9, rpc.StatusUnknownOpcode, nil, nil},
		{"timeout", 3, 0, nil, rpc.ErrTimeout},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rsp, err := conn.Call(context.Background(), tc.opcode, []byte("hello"), time.Second)
			if tc.err != nil {
				assert.Equal(t, tc.err, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.status, rsp.Status)
			if tc.data == nil {
				assert.Empty(t, rsp.Data)
			} else {
				assert.Equal(t, tc.data, rsp.Data)
			}
		})
	}

	_, err := conn.Call(context.Background(), 4, nil, time.Second)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, channel.ErrChannelCorrupt.Error(), remote.Message)
}

func TestConcurrentCalls(t *testing.T) {
	conn, _, _, stop := newTestBridge(t)
	defer stop()

	calls := make([]*rpc.Call, 20)
	for i := range calls {
		calls[i] = conn.Go(context.Background(), 1, []byte(fmt.Sprintf("call-%d", i)), time.Second)
	}
	for i, call := range calls {
		rsp, err := call.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("call-%d", i), string(rsp.Data))
	}
}

func TestServerCapsTimeout(t *testing.T) {
	conn, srv, caller, stop := newTestBridge(t)
	defer stop()
	srv.MaxTimeout = 50 * time.Millisecond

	_, err := conn.Call(context.Background(), 1, nil, time.Minute)
	require.NoError(t, err)
	_, err = conn.Call(context.Background(), 1, nil, 20*time.Millisecond)
	require.NoError(t, err)
	caller.lock.Lock()
	defer caller.lock.Unlock()
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 20 * time.Millisecond}, caller.timeouts)
}

func TestConnContextCanceled(t *testing.T) {
	conn, _, _, stop := newTestBridge(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.Call(ctx, 5, nil, time.Second)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestConnClosed(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(stream.New(a))
	b.Close()
	require.Eventually(t, func() bool {
		_, err := conn.Call(context.Background(), 1, nil, time.Second)
		return errors.Is(err, ErrClosed)
	}, time.Second, time.Millisecond)
	conn.Close()
}
