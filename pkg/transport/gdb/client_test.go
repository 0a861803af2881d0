package gdb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/rpc"
)

const testBase = uint32(0x20000000)

// fakeServer answers m/M packets from a RAM, like a debug server would.
type fakeServer struct {
	ram      *channel.RAM
	corrupt  int
	requests []string
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, err := readPacket(r)
		if err != nil {
			return
		}
		s.requests = append(s.requests, cmd)
		if _, err = conn.Write([]byte{'+'}); err != nil {
			return
		}
		reply := s.handle(cmd)
		for {
			if s.corrupt > 0 {
				s.corrupt--
				fmt.Fprintf(conn, "$%s#00", reply)
			} else if err = writePacket(conn, reply); err != nil {
				return
			}
			ack, err := r.ReadByte()
			if err != nil || ack == '+' {
				break
			}
		}
	}
}

func (s *fakeServer) handle(cmd string) string {
	ctx := context.Background()
	var data string
	if i := strings.IndexByte(cmd, ':'); i > 0 {
		cmd, data = cmd[:i], cmd[i+1:]
	}
	args := strings.SplitN(cmd[1:], ",", 2)
	if len(args) != 2 {
		return "E01"
	}
	addr, _ := strconv.ParseUint(args[0], 16, 32)
	size, _ := strconv.ParseUint(args[1], 16, 32)
	// the RAM only does word accesses, widen like a debug server does.
	start, end := uint32(addr)&^3, uint32(channel.PaddedLen(int(uint32(addr)+uint32(size))))
	buf := make([]byte, end-start)
	if err := s.ram.ReadBlock(ctx, start, buf); err != nil {
		return "E14"
	}
	off := uint32(addr) - start
	switch cmd[0] {
	case 'm':
		return hex.EncodeToString(buf[off : off+uint32(size)])
	case 'M':
		b, err := hex.DecodeString(data)
		if err != nil {
			return "E02"
		}
		copy(buf[off:], b)
		if err = s.ram.WriteBlock(ctx, start, buf); err != nil {
			return "E14"
		}
		return "OK"
	}
	return ""
}

func newTestClient(t *testing.T, config Config) (*Client, *fakeServer) {
	a, b := net.Pipe()
	s := &fakeServer{ram: channel.NewRAM(testBase, 256)}
	go s.serve(b)
	c := New(a, config)
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestExpand(t *testing.T) {
	testCases := []struct {
		in, out string
	}{
		{"OK", "OK"},
		{"0* ", "0000"},
		{"}\x03", "#"},
		{"ab", "ab"},
	}
	for _, tc := range testCases {
		out, err := expand(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.out, out)
	}
	_, err := expand("*a")
	assert.Error(t, err)
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, "m0,4"))
	assert.Equal(t, "$m0,4#fd", buf.String())
	pkt, err := readPacket(bufio.NewReader(strings.NewReader("+$OK#9a")))
	require.NoError(t, err)
	assert.Equal(t, "OK", pkt)
	_, err = readPacket(bufio.NewReader(strings.NewReader("$OK#00")))
	assert.Equal(t, ErrChecksum, err)
}

func TestClientMemory(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t, Config{MaxReadSize: 16, MaxWriteSize: 8})

	require.NoError(t, c.WriteWord(ctx, testBase+4, 0x11223344))
	val, err := s.ram.ReadWord(ctx, testBase+4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), val)
	val, err = c.ReadWord(ctx, testBase+4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), val)

	data := []byte("0123456789abcdefghij")
	require.NoError(t, c.WriteBlock(ctx, testBase+32, data))
	buf := make([]byte, len(data))
	require.NoError(t, c.ReadBlock(ctx, testBase+32, buf))
	assert.Equal(t, data, buf)
	assert.Contains(t, s.requests, "M20000004,4:44332211")

	_, err = c.ReadWord(ctx, testBase+1)
	assert.True(t, errors.Is(err, channel.ErrNotAligned))
	_, err = c.ReadWord(ctx, testBase+1024)
	assert.True(t, errors.Is(err, channel.ErrOutOfRange), "got %v", err)
}

func TestClientRetriesCorruptReply(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t, Config{})
	s.corrupt = 2
	require.NoError(t, s.ram.WriteWord(ctx, testBase, 42))
	val, err := c.ReadWord(ctx, testBase)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), val)
}

func TestClientDeadline(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	go func() {
		// accept packets and never answer.
		r := bufio.NewReader(b)
		for {
			if _, err := r.ReadByte(); err != nil {
				return
			}
		}
	}()
	c := New(a, Config{})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.ReadWord(ctx, testBase)
	require.Error(t, err)
}

func TestCallOverGDB(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t, Config{})
	slot, err := rpc.InitSlot(ctx, s.ram,
		channel.Layout{Base: testBase, Size: 64},
		channel.Layout{Base: testBase + 64, Size: 64},
		channel.Options{})
	require.NoError(t, err)
	disp := rpc.NewDispatcher(slot)
	require.NoError(t, disp.HandleFunc(2, func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if busy, _ := disp.Poll(ctx); !busy {
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	client, err := rpc.Attach(ctx, c, rpc.Config{Command: testBase, Response: testBase + 64})
	require.NoError(t, err)
	rsp, err := client.Call(ctx, 2, []byte("over gdb"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("over gdb"), rsp.Data)
}
