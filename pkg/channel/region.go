package channel

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Options tunes a Region for the platform.
type Options struct {
	// Barrier requests a Fence around every ready word access. Set it for
	// targets whose memory path doesn't preserve program order.
	Barrier bool
}

// Frame is the logical content of a region.
type Frame struct {
	Sequence uint32
	// Code is the opcode in a command region and the status in a response region.
	Code    uint32
	Payload []byte
}

// Region is one single-slot mailbox in target memory.
type Region struct {
	mem    Memory
	layout Layout
	fencer Fencer
}

// NewRegion binds a layout without touching memory.
func NewRegion(mem Memory, layout Layout, opts Options) (*Region, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	r := &Region{mem: mem, layout: layout}
	if opts.Barrier {
		fencer, ok := mem.(Fencer)
		if !ok {
			return nil, ErrNoBarrier
		}
		r.fencer = fencer
	}
	return r, nil
}

// Init creates a region on the target side. The size word is cleared first
// and written last, so a controller never attaches to a half-built header.
func Init(ctx context.Context, mem Memory, layout Layout, opts Options) (*Region, error) {
	r, err := NewRegion(mem, layout, opts)
	if err != nil {
		return nil, err
	}
	if err = r.writeField(ctx, OffsetSize, 0); err != nil {
		return nil, err
	}
	for _, offset := range []uint32{OffsetReady, OffsetSequence, OffsetCode, OffsetLength} {
		if err = r.writeField(ctx, offset, 0); err != nil {
			return nil, err
		}
	}
	if err = r.fence(ctx); err != nil {
		return nil, err
	}
	if err = r.writeField(ctx, OffsetSize, layout.Size); err != nil {
		return nil, err
	}
	glog.V(2).Infof("channel: initialized region %s capacity %d", layout, layout.Capacity())
	return r, nil
}

// Attach connects to a region the target already initialized at base.
func Attach(ctx context.Context, mem Memory, base uint32, opts Options) (*Region, error) {
	if base%WordSize != 0 {
		return nil, fmt.Errorf("region at %#08x: %w", base, ErrNotAligned)
	}
	size, err := mem.ReadWord(ctx, base+OffsetSize)
	if err != nil {
		return nil, fmt.Errorf("read region size at %#08x: %w", base, err)
	}
	if size == 0 {
		return nil, fmt.Errorf("region at %#08x: %w", base, ErrUninit)
	}
	r, err := NewRegion(mem, Layout{Base: base, Size: size}, opts)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("channel: attached region %s capacity %d", r.layout, r.Capacity())
	return r, nil
}

// Layout returns the region placement.
func (r *Region) Layout() Layout {
	return r.layout
}

// Capacity returns the maximum payload size.
func (r *Region) Capacity() int {
	return r.layout.Capacity()
}

// Pending reports whether the region currently holds a frame owned by the consumer.
func (r *Region) Pending(ctx context.Context) (bool, error) {
	ready, err := r.readField(ctx, OffsetReady)
	if err != nil {
		return false, err
	}
	return ready != ReadyEmpty, nil
}

// Publish writes a frame as the producer. The payload, sequence, code and
// length are all stored before the ready word, which is written last.
// Nothing is written if the payload doesn't fit or the consumer still owns
// the region.
func (r *Region) Publish(ctx context.Context, f Frame) error {
	if len(f.Payload) > r.Capacity() {
		return fmt.Errorf("%d bytes into %s: %w", len(f.Payload), r.layout, ErrPayloadTooLarge)
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if pending {
		return ErrBusy
	}
	if n := len(f.Payload); n > 0 {
		data := f.Payload
		if padded := PaddedLen(n); padded != n {
			data = make([]byte, padded)
			copy(data, f.Payload)
		}
		if err = r.mem.WriteBlock(ctx, r.layout.PayloadAddr(), data); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	if err = r.writeField(ctx, OffsetSequence, f.Sequence); err != nil {
		return err
	}
	if err = r.writeField(ctx, OffsetCode, f.Code); err != nil {
		return err
	}
	if err = r.writeField(ctx, OffsetLength, uint32(len(f.Payload))); err != nil {
		return err
	}
	if err = r.fence(ctx); err != nil {
		return err
	}
	return r.writeField(ctx, OffsetReady, ReadyFull)
}

// Poll consumes a frame if one is ready. It never blocks: (nil, nil) means
// the region is empty. A frame declaring more payload than the capacity yields
// a *CorruptError and is left in place.
func (r *Region) Poll(ctx context.Context) (*Frame, error) {
	pending, err := r.Pending(ctx)
	if err != nil || !pending {
		return nil, err
	}
	if err = r.fence(ctx); err != nil {
		return nil, err
	}
	f := &Frame{}
	if f.Sequence, err = r.readField(ctx, OffsetSequence); err != nil {
		return nil, err
	}
	if f.Code, err = r.readField(ctx, OffsetCode); err != nil {
		return nil, err
	}
	length, err := r.readField(ctx, OffsetLength)
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(r.Capacity()) {
		return nil, &CorruptError{Sequence: f.Sequence, Code: f.Code, Length: length, Capacity: r.Capacity()}
	}
	if length > 0 {
		buf := make([]byte, PaddedLen(int(length)))
		if err = r.mem.ReadBlock(ctx, r.layout.PayloadAddr(), buf); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		f.Payload = buf[:length]
	}
	if err = r.Ack(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Ack hands the region back to the producer without reading it.
func (r *Region) Ack(ctx context.Context) error {
	if err := r.fence(ctx); err != nil {
		return err
	}
	return r.writeField(ctx, OffsetReady, ReadyEmpty)
}

func (r *Region) fence(ctx context.Context) error {
	if r.fencer == nil {
		return nil
	}
	if err := r.fencer.Fence(ctx); err != nil {
		return fmt.Errorf("fence: %w", err)
	}
	return nil
}

func (r *Region) readField(ctx context.Context, offset uint32) (uint32, error) {
	v, err := r.mem.ReadWord(ctx, r.layout.Field(offset))
	if err != nil {
		return 0, fmt.Errorf("read %s+%#x: %w", r.layout, offset, err)
	}
	return v, nil
}

func (r *Region) writeField(ctx context.Context, offset, value uint32) error {
	if err := r.mem.WriteWord(ctx, r.layout.Field(offset), value); err != nil {
		return fmt.Errorf("write %s+%#x: %w", r.layout, offset, err)
	}
	return nil
}
