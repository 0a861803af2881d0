package channel

import "fmt"

// Field offsets of a region header. Every field is a little-endian 32-bit word.
const (
	OffsetSize     uint32 = 0x00
	OffsetReady    uint32 = 0x04
	OffsetSequence uint32 = 0x08
	OffsetCode     uint32 = 0x0c
	OffsetLength   uint32 = 0x10

	// HeaderSize is where the payload starts.
	HeaderSize uint32 = 0x14
	// WordSize is the size of the atomic unit.
	WordSize uint32 = 4
	// MinRegionSize is a header plus one payload word.
	MinRegionSize = HeaderSize + WordSize
)

// Values of the ready word.
const (
	ReadyEmpty uint32 = 0
	ReadyFull  uint32 = 1
)

// Layout locates a region in target memory.
type Layout struct {
	Base uint32
	Size uint32
}

// Validate checks alignment and minimum size. The size must be whole words
// as payloads are moved in words.
func (l Layout) Validate() error {
	if l.Base%WordSize != 0 {
		return fmt.Errorf("region at %#08x: %w", l.Base, ErrNotAligned)
	}
	if l.Size%WordSize != 0 {
		return fmt.Errorf("region at %#08x size %d: %w", l.Base, l.Size, ErrNotAligned)
	}
	if l.Size < MinRegionSize {
		return fmt.Errorf("region at %#08x size %d: %w", l.Base, l.Size, ErrRegionTooSmall)
	}
	if uint64(l.Base)+uint64(l.Size) > 1<<32 {
		return fmt.Errorf("region at %#08x size %d: %w", l.Base, l.Size, ErrRegionTooSmall)
	}
	return nil
}

// Capacity is the number of payload bytes the region can carry.
func (l Layout) Capacity() int {
	if l.Size < HeaderSize {
		return 0
	}
	return int(l.Size - HeaderSize)
}

// Field returns the absolute address of a header field.
func (l Layout) Field(offset uint32) uint32 {
	return l.Base + offset
}

// PayloadAddr returns the absolute address of the payload area.
func (l Layout) PayloadAddr() uint32 {
	return l.Base + HeaderSize
}

// End returns the first address after the region.
func (l Layout) End() uint32 {
	return l.Base + l.Size
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("%#08x+%d", l.Base, l.Size)
}

// PaddedLen rounds n up to whole words.
func PaddedLen(n int) int {
	w := int(WordSize)
	return (n + w - 1) / w * w
}
