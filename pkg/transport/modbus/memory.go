// Package modbus reaches target memory exposed as a window of Modbus holding
// registers. Memory bytes map onto register bytes in order, so the word at
// window offset 4n spans registers 2n and 2n+1.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
)

// Protocol limits per request.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

// Registers is the part of modbus.Client used by Memory.
type Registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Config locates the window.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	SlaveID  byte
	// Base is the target address of register Register.
	Base     uint32
	Register uint16
}

// Memory implements channel.Memory over holding registers. A word write is a
// single write-multiple-registers request, which the target applies atomically.
type Memory struct {
	regs     Registers
	base     uint32
	register uint16
	closer   func() error

	lock sync.Mutex
}

// ErrNoEndpoint indicates Config.Endpoint is empty.
var ErrNoEndpoint = errors.New("modbus: endpoint required")

// Dial connects to a Modbus TCP endpoint.
func Dial(config Config) (*Memory, error) {
	if config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	h := modbus.NewTCPClientHandler(config.Endpoint)
	h.Timeout = config.Timeout
	h.SlaveId = config.SlaveID
	if err := h.Connect(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("modbus: connected to %s unit %d", config.Endpoint, config.SlaveID)
	m := New(modbus.NewClient(h), config.Base, config.Register)
	m.closer = h.Close
	return m, nil
}

// New creates a Memory over an existing register client.
func New(regs Registers, base uint32, register uint16) *Memory {
	return &Memory{regs: regs, base: base, register: register}
}

// Close implements io.Closer.
func (m *Memory) Close() error {
	if m.closer != nil {
		return m.closer()
	}
	return nil
}

// locate converts an aligned address range into the first register.
func (m *Memory) locate(addr uint32, n int) (uint16, error) {
	if addr%channel.WordSize != 0 {
		return 0, fmt.Errorf("%#08x: %w", addr, channel.ErrNotAligned)
	}
	if addr < m.base {
		return 0, fmt.Errorf("%#08x: %w", addr, channel.ErrOutOfRange)
	}
	reg := uint64(m.register) + uint64(addr-m.base)/2
	if reg+uint64(channel.PaddedLen(n))/2 > 0x10000 {
		return 0, fmt.Errorf("%#08x+%d: %w", addr, n, channel.ErrOutOfRange)
	}
	return uint16(reg), nil
}

// ReadWord implements channel.Memory.
func (m *Memory) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	var buf [4]byte
	if err := m.ReadBlock(ctx, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteWord implements channel.Memory.
func (m *Memory) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return m.WriteBlock(ctx, addr, buf[:])
}

// ReadBlock implements channel.Memory.
func (m *Memory) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	reg, err := m.locate(addr, len(buf))
	if err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	total := (len(buf) + 1) / 2
	for done := 0; done < total; {
		if err = ctx.Err(); err != nil {
			return err
		}
		qty := min(total-done, MaxReadRegisters)
		data, err := m.regs.ReadHoldingRegisters(reg+uint16(done), uint16(qty))
		if err != nil {
			return fmt.Errorf("read registers %d+%d: %w", reg+uint16(done), qty, err)
		}
		if len(data) != qty*2 {
			return fmt.Errorf("read registers %d+%d: got %d bytes", reg+uint16(done), qty, len(data))
		}
		copy(buf[done*2:], data)
		done += qty
	}
	return nil
}

// WriteBlock implements channel.Memory. A trailing odd byte is merged with
// the current register content.
func (m *Memory) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	reg, err := m.locate(addr, len(data))
	if err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(data)%2 != 0 {
		last := reg + uint16(len(data)/2)
		cur, err := m.regs.ReadHoldingRegisters(last, 1)
		if err != nil {
			return fmt.Errorf("read register %d: %w", last, err)
		}
		if len(cur) != 2 {
			return fmt.Errorf("read register %d: got %d bytes", last, len(cur))
		}
		data = append(append([]byte(nil), data...), cur[1])
	}
	total := len(data) / 2
	for done := 0; done < total; {
		if err = ctx.Err(); err != nil {
			return err
		}
		qty := min(total-done, MaxWriteRegisters)
		if _, err := m.regs.WriteMultipleRegisters(reg+uint16(done), uint16(qty), data[done*2:(done+qty)*2]); err != nil {
			return fmt.Errorf("write registers %d+%d: %w", reg+uint16(done), qty, err)
		}
		done += qty
	}
	return nil
}
