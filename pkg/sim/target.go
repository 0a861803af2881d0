// Package sim simulates a target: RAM holding the channel regions, a
// Dispatcher with a few built-in handlers, and servers exposing the RAM to
// controllers over memlink.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/rpc"
)

// Built-in opcodes.
const (
	OpReverseEcho uint32 = 0x01
	OpEcho        uint32 = 0x02
	OpInfo        uint32 = 0x03
	OpSleep       uint32 = 0x04
	OpPeek        uint32 = 0x10
	OpPoke        uint32 = 0x11
)

// Application statuses of the built-in handlers.
const (
	StatusBadArgs    = rpc.StatusUser
	StatusOutOfRange = rpc.StatusUser + 1
)

// InfoVersion is the layout version of Info.
const InfoVersion = 1

// MaxSleep bounds OpSleep.
const MaxSleep = 10 * time.Second

// Info is returned by OpInfo.
type Info struct {
	Version          uint32
	Slots            uint32
	CommandCapacity  uint32
	ResponseCapacity uint32
	ScratchBase      uint32
	ScratchSize      uint32
	Name             string
}

const infoFixedSize = 24

// Encode encodes Info as little-endian words followed by the name.
func (i *Info) Encode() []byte {
	buf := make([]byte, infoFixedSize, infoFixedSize+len(i.Name))
	for n, v := range []uint32{i.Version, i.Slots, i.CommandCapacity, i.ResponseCapacity, i.ScratchBase, i.ScratchSize} {
		binary.LittleEndian.PutUint32(buf[n*4:], v)
	}
	return append(buf, i.Name...)
}

// ErrShortInfo indicates an OpInfo response is truncated.
var ErrShortInfo = errors.New("info too short")

// DecodeInfo decodes an OpInfo response.
func DecodeInfo(data []byte) (*Info, error) {
	if len(data) < infoFixedSize {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrShortInfo)
	}
	word := func(n int) uint32 { return binary.LittleEndian.Uint32(data[n*4:]) }
	return &Info{
		Version:          word(0),
		Slots:            word(1),
		CommandCapacity:  word(2),
		ResponseCapacity: word(3),
		ScratchBase:      word(4),
		ScratchSize:      word(5),
		Name:             string(data[infoFixedSize:]),
	}, nil
}

// Target is a simulated target.
type Target struct {
	Config
	RAM        *channel.RAM
	Channels   []rpc.Slot
	Dispatcher *rpc.Dispatcher
}

// Name implements framework.Named.
func (t *Target) Name() string {
	return t.Config.Name
}

// AddToLoop implements framework.LoopAdder.
func (t *Target) AddToLoop(l *framework.Loop) {
	t.Dispatcher.AddToLoop(l)
}

// Info describes the target.
func (t *Target) Info() *Info {
	return &Info{
		Version:          InfoVersion,
		Slots:            uint32(len(t.Channels)),
		CommandCapacity:  uint32(t.Channels[0].Command.Capacity()),
		ResponseCapacity: uint32(t.Channels[0].Response.Capacity()),
		ScratchBase:      t.ScratchBase(),
		ScratchSize:      t.ScratchSize,
		Name:             t.Config.Name,
	}
}

func (t *Target) registerHandlers() error {
	handlers := map[uint32]rpc.HandlerFunc{
		OpReverseEcho: reverseEcho,
		OpEcho:        echo,
		OpInfo:        t.handleInfo,
		OpSleep:       sleep,
		OpPeek:        t.peek,
		OpPoke:        t.poke,
	}
	for opcode, h := range handlers {
		if err := t.Dispatcher.Register(opcode, h); err != nil {
			return err
		}
	}
	return nil
}

func reverseEcho(ctx context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[len(payload)-1-i] = b
	}
	return out, nil
}

func echo(ctx context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

func (t *Target) handleInfo(ctx context.Context, payload []byte) ([]byte, error) {
	return t.Info().Encode(), nil
}

// sleep blocks the dispatcher for the milliseconds in payload, so callers
// can observe timeouts and late responses.
func sleep(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 4 {
		return nil, rpc.NewCommandError(StatusBadArgs, "want u32 milliseconds")
	}
	d := time.Duration(binary.LittleEndian.Uint32(payload)) * time.Millisecond
	if d > MaxSleep {
		return nil, rpc.NewCommandError(StatusBadArgs, fmt.Sprintf("sleep %v exceeds %v", d, MaxSleep))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// scratch checks [addr, addr+n) lies in the scratch area and addr is aligned.
func (t *Target) scratch(addr uint32, n int) error {
	if addr%channel.WordSize != 0 {
		return rpc.NewCommandError(StatusBadArgs, fmt.Sprintf("address %#08x not aligned", addr))
	}
	base := t.ScratchBase()
	if addr < base || uint64(addr-base)+uint64(n) > uint64(t.ScratchSize) {
		return rpc.NewCommandError(StatusOutOfRange, fmt.Sprintf("%#08x+%d outside scratch", addr, n))
	}
	return nil
}

// peek payload: addr u32 | len u32.
func (t *Target) peek(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 8 {
		return nil, rpc.NewCommandError(StatusBadArgs, "want u32 address and u32 length")
	}
	addr := binary.LittleEndian.Uint32(payload)
	n := int(binary.LittleEndian.Uint32(payload[4:]))
	if err := t.scratch(addr, channel.PaddedLen(n)); err != nil {
		return nil, err
	}
	buf := make([]byte, channel.PaddedLen(n))
	if err := t.RAM.ReadBlock(ctx, addr, buf); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// poke payload: addr u32 | data.
func (t *Target) poke(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, rpc.NewCommandError(StatusBadArgs, "want u32 address and data")
	}
	addr := binary.LittleEndian.Uint32(payload)
	data := payload[4:]
	if err := t.scratch(addr, len(data)); err != nil {
		return nil, err
	}
	return nil, t.RAM.WriteBlock(ctx, addr, data)
}
