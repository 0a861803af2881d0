package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge indicates the payload doesn't fit the region capacity.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrBusy indicates the region is still owned by the consumer.
	ErrBusy = errors.New("channel busy")
	// ErrUninit indicates the region has not been initialized by the target.
	ErrUninit = errors.New("channel not initialized")
	// ErrNotAligned indicates the region base is not word aligned.
	ErrNotAligned = errors.New("address not word aligned")
	// ErrRegionTooSmall indicates the region can't hold a header and one word.
	ErrRegionTooSmall = errors.New("region too small")
	// ErrNoBarrier indicates a barrier is required but the memory can't provide one.
	ErrNoBarrier = errors.New("memory does not support barriers")
	// ErrChannelCorrupt indicates a frame declares more payload than the region holds.
	ErrChannelCorrupt = errors.New("channel corrupt")
	// ErrOutOfRange indicates an access outside the backing memory.
	ErrOutOfRange = errors.New("address out of range")
)

// CorruptError describes a frame whose length exceeds the region capacity.
// The region is left untouched; the consumer decides whether to Ack it.
type CorruptError struct {
	Sequence uint32
	Code     uint32
	Length   uint32
	Capacity int
}

// Error implements error.
func (e *CorruptError) Error() string {
	return fmt.Sprintf("channel corrupt: seq %d declares %d bytes, capacity %d", e.Sequence, e.Length, e.Capacity)
}

// Is makes errors.Is(err, ErrChannelCorrupt) hold.
func (e *CorruptError) Is(target error) bool {
	return target == ErrChannelCorrupt
}
