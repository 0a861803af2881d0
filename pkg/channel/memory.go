package channel

import "context"

// Memory is the access path into the target's memory window. It is the only
// dependency on the debug-port driver.
//
// ReadWord and WriteWord must be single, untorn 32-bit accesses. Block accesses
// start on a word boundary and carry no atomicity guarantee.
type Memory interface {
	ReadWord(ctx context.Context, addr uint32) (uint32, error)
	WriteWord(ctx context.Context, addr uint32, value uint32) error
	ReadBlock(ctx context.Context, addr uint32, buf []byte) error
	WriteBlock(ctx context.Context, addr uint32, data []byte) error
}

// Fencer is implemented by memories able to order accesses around the ready
// word on targets lacking program-order visibility.
type Fencer interface {
	Fence(ctx context.Context) error
}
