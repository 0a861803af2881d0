package memlink

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/link/stream"
	"github.com/robotalks/corpc/pkg/rpc"
)

const testBase = uint32(0x20000000)

func newTestLink(t *testing.T, mem channel.Memory) (*Client, func()) {
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewServer(mem).Serve(ctx, stream.New(b))
	}()
	c := NewClient(stream.New(a))
	return c, func() {
		cancel()
		<-done
		c.Close()
	}
}

func TestCodec(t *testing.T) {
	req := &Request{Op: OpWriteBlock, ID: 7, Addr: 0x1000, Length: 3, Data: []byte{1, 2, 3}}
	pkt := req.Encode()
	assert.Equal(t, []byte{4, 7, 0, 0, 0, 0, 0x10, 0, 0, 3, 0, 0, 0, 1, 2, 3}, pkt)
	decoded, err := DecodeRequest(pkt)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	rep := &Reply{Op: OpReadWord, ID: 9, Status: StatusOK, Data: []byte{0xaa}}
	pkt = rep.Encode()
	assert.Equal(t, []byte{0x81, 9, 0, 0, 0, 0, 0xaa}, pkt)
	decodedRep, err := DecodeReply(pkt)
	require.NoError(t, err)
	assert.Equal(t, rep, decodedRep)

	_, err = DecodeRequest(pkt)
	assert.Equal(t, ErrBadPacket, err)
	_, err = DecodeReply([]byte{0x81, 0})
	assert.Equal(t, ErrBadPacket, err)
}

func TestServerExecute(t *testing.T) {
	ctx := context.Background()
	s := NewServer(channel.NewRAM(testBase, 64))
	testCases := []struct {
		name   string
		req    *Request
		status byte
	}{
		{"write word", &Request{Op: OpWriteWord, Addr: testBase, Length: 4, Data: []byte{1, 0, 0, 0}}, StatusOK},
		{"short write word", &Request{Op: OpWriteWord, Addr: testBase, Length: 4, Data: []byte{1}}, StatusBadRequest},
		{"unaligned", &Request{Op: OpReadWord, Addr: testBase + 1, Length: 4}, StatusNotAligned},
		{"out of range", &Request{Op: OpReadBlock, Addr: testBase + 60, Length: 8}, StatusOutOfRange},
		{"length mismatch", &Request{Op: OpWriteBlock, Addr: testBase, Length: 8, Data: []byte{1}}, StatusBadRequest},
		{"unknown op", &Request{Op: 0x33, ID: 5}, StatusBadRequest},
		{"fence", &Request{Op: OpFence}, StatusOK},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rep := s.Execute(ctx, tc.req.Encode())
			assert.Equal(t, tc.status, rep.Status, "%s", rep.Data)
			assert.Equal(t, tc.req.ID, rep.ID)
		})
	}
}

func TestClientMemory(t *testing.T) {
	ctx := context.Background()
	ram := channel.NewRAM(testBase, 64)
	c, stop := newTestLink(t, ram)
	defer stop()

	require.NoError(t, c.WriteWord(ctx, testBase+4, 0xdeadbeef))
	val, err := ram.ReadWord(ctx, testBase+4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), val)

	val, err = c.ReadWord(ctx, testBase+4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), val)

	require.NoError(t, c.WriteBlock(ctx, testBase+8, []byte("hello wo")))
	buf := make([]byte, 8)
	require.NoError(t, c.ReadBlock(ctx, testBase+8, buf))
	assert.Equal(t, "hello wo", string(buf))
	require.NoError(t, c.Fence(ctx))

	_, err = c.ReadWord(ctx, testBase+2)
	assert.True(t, errors.Is(err, channel.ErrNotAligned), "got %v", err)
	err = c.WriteBlock(ctx, testBase+64, []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, channel.ErrOutOfRange), "got %v", err)
}

func TestClientClosedLink(t *testing.T) {
	a, b := net.Pipe()
	c := NewClient(stream.New(a))
	b.Close()
	_, err := c.ReadWord(context.Background(), testBase)
	require.Error(t, err)
	require.Eventually(t, func() bool {
		_, err := c.ReadWord(context.Background(), testBase)
		return errors.Is(err, ErrClosed)
	}, time.Second, time.Millisecond)
	c.Close()
}

func TestClientContextCanceled(t *testing.T) {
	a, b := net.Pipe()
	c := NewClient(stream.New(a))
	defer c.Close()
	defer b.Close()
	go func() {
		// swallow requests without replying.
		rw := stream.New(b)
		for {
			if _, err := rw.ReadPacket(); err != nil {
				return
			}
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.ReadWord(ctx, testBase)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestCallOverLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ram := channel.NewRAM(testBase, 256)
	slot, err := rpc.InitSlot(ctx, ram,
		channel.Layout{Base: testBase, Size: 128},
		channel.Layout{Base: testBase + 128, Size: 128},
		channel.Options{})
	require.NoError(t, err)
	disp := rpc.NewDispatcher(slot)
	require.NoError(t, disp.HandleFunc(1, func(ctx context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[len(payload)-1-i] = b
		}
		return out, nil
	}))
	loop := framework.NewLoop()
	loop.Add(disp)
	go loop.Run(ctx)

	mem, stop := newTestLink(t, ram)
	defer stop()
	client, err := rpc.Attach(ctx, mem, rpc.Config{
		Command:  testBase,
		Response: testBase + 128,
		Options:  channel.Options{Barrier: true},
	})
	require.NoError(t, err)
	rsp, err := client.Call(ctx, 1, []byte{1, 2, 3, 4, 5}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.StatusOK, rsp.Status)
	assert.Equal(t, []byte{5, 4, 3, 2, 1}, rsp.Data)
}
