package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// RAM is a word-addressed in-process memory. Word accesses are atomic, which
// gives the same guarantees as SRAM seen through a debug port. It backs the
// simulator and the tests, and can serve as the target side when both roles
// live in one process.
type RAM struct {
	base  uint32
	words []uint32
}

// NewRAM allocates size bytes (rounded up to words) mapped at base.
func NewRAM(base uint32, size int) *RAM {
	return &RAM{base: base, words: make([]uint32, PaddedLen(size)/int(WordSize))}
}

// Base returns the first mapped address.
func (m *RAM) Base() uint32 {
	return m.base
}

// Size returns the mapped size in bytes.
func (m *RAM) Size() int {
	return len(m.words) * int(WordSize)
}

func (m *RAM) index(addr uint32, n int) (int, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("%#08x: %w", addr, ErrNotAligned)
	}
	if addr < m.base || uint64(addr-m.base)+uint64(n) > uint64(m.Size()) {
		return 0, fmt.Errorf("%#08x+%d: %w", addr, n, ErrOutOfRange)
	}
	return int((addr - m.base) / WordSize), nil
}

// ReadWord implements Memory.
func (m *RAM) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	i, err := m.index(addr, int(WordSize))
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(&m.words[i]), nil
}

// WriteWord implements Memory.
func (m *RAM) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	i, err := m.index(addr, int(WordSize))
	if err != nil {
		return err
	}
	atomic.StoreUint32(&m.words[i], value)
	return nil
}

// ReadBlock implements Memory.
func (m *RAM) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	i, err := m.index(addr, len(buf))
	if err != nil {
		return err
	}
	var word [4]byte
	for off := 0; off < len(buf); off += int(WordSize) {
		binary.LittleEndian.PutUint32(word[:], atomic.LoadUint32(&m.words[i]))
		copy(buf[off:], word[:])
		i++
	}
	return nil
}

// WriteBlock implements Memory. A trailing partial word keeps its upper bytes.
func (m *RAM) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	i, err := m.index(addr, len(data))
	if err != nil {
		return err
	}
	var word [4]byte
	for off := 0; off < len(data); off += int(WordSize) {
		if rest := len(data) - off; rest < int(WordSize) {
			binary.LittleEndian.PutUint32(word[:], atomic.LoadUint32(&m.words[i]))
			copy(word[:rest], data[off:])
		} else {
			copy(word[:], data[off:off+int(WordSize)])
		}
		atomic.StoreUint32(&m.words[i], binary.LittleEndian.Uint32(word[:]))
		i++
	}
	return nil
}

// Fence implements Fencer. Atomic accesses are already sequentially consistent.
func (m *RAM) Fence(ctx context.Context) error {
	return nil
}
