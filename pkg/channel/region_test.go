package channel

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBase = uint32(0x20000000)

func newTestRegion(t *testing.T, size uint32) (*RAM, *Region) {
	ram := NewRAM(testBase, int(size))
	r, err := Init(context.Background(), ram, Layout{Base: testBase, Size: size}, Options{})
	require.NoError(t, err)
	return ram, r
}

func snapshot(t *testing.T, m *RAM) []byte {
	buf := make([]byte, m.Size())
	require.NoError(t, m.ReadBlock(context.Background(), m.Base(), buf))
	return buf
}

func TestLayoutValidate(t *testing.T) {
	testCases := []struct {
		name   string
		layout Layout
		err    error
	}{
		{"ok", Layout{Base: 0x100, Size: 64}, nil},
		{"minimum", Layout{Base: 0x100, Size: MinRegionSize}, nil},
		{"unaligned", Layout{Base: 0x102, Size: 64}, ErrNotAligned},
		{"partial word", Layout{Base: 0x100, Size: 66}, ErrNotAligned},
		{"too small", Layout{Base: 0x100, Size: HeaderSize}, ErrRegionTooSmall},
		{"wraps", Layout{Base: 0xfffffff0, Size: 64}, ErrRegionTooSmall},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.layout.Validate()
			if tc.err == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, tc.err), "got %v", err)
			}
		})
	}
	require.Equal(t, 44, Layout{Size: 64}.Capacity())
}

func TestRegionRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegion(t, 64)
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0xa5}},
		{"three bytes", []byte{1, 2, 3}},
		{"word", []byte{1, 2, 3, 4}},
		{"unaligned tail", []byte{1, 2, 3, 4, 5, 6, 7}},
		{"full", bytes.Repeat([]byte{0x5a}, 44)},
	}
	for n, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := Frame{Sequence: uint32(n + 1), Code: 0x42, Payload: tc.payload}
			require.NoError(t, r.Publish(ctx, in))
			out, err := r.Poll(ctx)
			require.NoError(t, err)
			require.NotNil(t, out)
			require.Equal(t, in.Sequence, out.Sequence)
			require.Equal(t, in.Code, out.Code)
			require.Equal(t, len(tc.payload), len(out.Payload))
			if len(tc.payload) > 0 {
				require.Equal(t, tc.payload, out.Payload)
			}
			out, err = r.Poll(ctx)
			require.NoError(t, err)
			require.Nil(t, out)
		})
	}
}

func TestRegionPayloadTooLarge(t *testing.T) {
	ctx := context.Background()
	ram, r := newTestRegion(t, 32)
	before := snapshot(t, ram)
	err := r.Publish(ctx, Frame{Sequence: 1, Code: 1, Payload: make([]byte, r.Capacity()+1)})
	require.True(t, errors.Is(err, ErrPayloadTooLarge))
	require.Equal(t, before, snapshot(t, ram))
	f, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestRegionBusy(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegion(t, 32)
	require.NoError(t, r.Publish(ctx, Frame{Sequence: 1, Payload: []byte{1}}))
	require.Equal(t, ErrBusy, r.Publish(ctx, Frame{Sequence: 2, Payload: []byte{2}}))
	f, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1), f.Sequence)
	require.NoError(t, r.Publish(ctx, Frame{Sequence: 2, Payload: []byte{2}}))
}

func TestRegionAttach(t *testing.T) {
	ctx := context.Background()
	ram := NewRAM(testBase, 128)
	_, err := Attach(ctx, ram, testBase, Options{})
	require.True(t, errors.Is(err, ErrUninit))
	_, err = Attach(ctx, ram, testBase+2, Options{})
	require.True(t, errors.Is(err, ErrNotAligned))
	require.NoError(t, ram.WriteWord(ctx, testBase+OffsetSize, 66))
	_, err = Attach(ctx, ram, testBase, Options{})
	require.True(t, errors.Is(err, ErrNotAligned))

	target, err := Init(ctx, ram, Layout{Base: testBase, Size: 96}, Options{})
	require.NoError(t, err)
	host, err := Attach(ctx, ram, testBase, Options{})
	require.NoError(t, err)
	require.Equal(t, target.Layout(), host.Layout())

	require.NoError(t, host.Publish(ctx, Frame{Sequence: 7, Code: 3, Payload: []byte("hi")}))
	f, err := target.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), f.Payload)
}

func TestRegionCorrupt(t *testing.T) {
	ctx := context.Background()
	ram, r := newTestRegion(t, 32)
	require.NoError(t, r.Publish(ctx, Frame{Sequence: 9, Code: 1, Payload: []byte{1}}))
	require.NoError(t, ram.WriteWord(ctx, testBase+OffsetLength, 1000))

	f, err := r.Poll(ctx)
	require.Nil(t, f)
	require.True(t, errors.Is(err, ErrChannelCorrupt))
	var corrupt *CorruptError
	require.True(t, errors.As(err, &corrupt))
	require.Equal(t, uint32(9), corrupt.Sequence)
	require.Equal(t, uint32(1000), corrupt.Length)

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	require.True(t, pending)
	require.NoError(t, r.Ack(ctx))
	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	require.False(t, pending)
}

type fenceCounter struct {
	*RAM
	fences int
}

func (m *fenceCounter) Fence(ctx context.Context) error {
	m.fences++
	return nil
}

type noFenceMemory struct {
	Memory
}

func TestRegionBarrier(t *testing.T) {
	ctx := context.Background()
	mem := &fenceCounter{RAM: NewRAM(testBase, 64)}
	r, err := Init(ctx, mem, Layout{Base: testBase, Size: 64}, Options{Barrier: true})
	require.NoError(t, err)
	mem.fences = 0
	require.NoError(t, r.Publish(ctx, Frame{Sequence: 1}))
	require.Equal(t, 1, mem.fences)
	_, err = r.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, mem.fences)

	_, err = NewRegion(noFenceMemory{NewRAM(testBase, 64)}, Layout{Base: testBase, Size: 64}, Options{Barrier: true})
	require.Equal(t, ErrNoBarrier, err)
}

// interleavedMemory lets an observer run after every single store, which
// models a consumer polling between any two of the producer's writes.
type interleavedMemory struct {
	Memory
	afterStore func()
}

func (m *interleavedMemory) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	err := m.Memory.WriteWord(ctx, addr, value)
	m.afterStore()
	return err
}

func (m *interleavedMemory) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += int(WordSize) {
		end := off + int(WordSize)
		if end > len(data) {
			end = len(data)
		}
		if err := m.Memory.WriteBlock(ctx, addr+uint32(off), data[off:end]); err != nil {
			return err
		}
		m.afterStore()
	}
	return nil
}

func TestRegionNoTornFrames(t *testing.T) {
	ctx := context.Background()
	ram := NewRAM(testBase, 64)
	consumer, err := Init(ctx, ram, Layout{Base: testBase, Size: 64}, Options{})
	require.NoError(t, err)

	var observed []*Frame
	mem := &interleavedMemory{Memory: ram}
	mem.afterStore = func() {
		f, err := consumer.Poll(ctx)
		require.NoError(t, err)
		if f != nil {
			observed = append(observed, f)
		}
	}
	producer, err := Attach(ctx, mem, testBase, Options{})
	require.NoError(t, err)

	frames := []Frame{
		{Sequence: 1, Code: 10, Payload: []byte{1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{Sequence: 2, Code: 20, Payload: []byte{2, 2}},
		{Sequence: 3, Code: 30},
		{Sequence: 4, Code: 40, Payload: bytes.Repeat([]byte{4}, 44)},
	}
	for _, f := range frames {
		require.NoError(t, producer.Publish(ctx, f))
	}
	require.Len(t, observed, len(frames))
	for i, f := range frames {
		require.Equal(t, f.Sequence, observed[i].Sequence)
		require.Equal(t, f.Code, observed[i].Code)
		require.Equal(t, len(f.Payload), len(observed[i].Payload))
		if len(f.Payload) > 0 {
			require.Equal(t, f.Payload, observed[i].Payload)
		}
	}
}

func TestRegionConcurrentProducerConsumer(t *testing.T) {
	ctx := context.Background()
	ram := NewRAM(testBase, 64)
	consumer, err := Init(ctx, ram, Layout{Base: testBase, Size: 64}, Options{})
	require.NoError(t, err)
	producer, err := Attach(ctx, ram, testBase, Options{})
	require.NoError(t, err)

	const count = 500
	payloadOf := func(seq uint32) []byte {
		return bytes.Repeat([]byte{byte(seq)}, int(seq%40)+1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint32(1); seq <= count; {
			err := producer.Publish(ctx, Frame{Sequence: seq, Code: seq * 3, Payload: payloadOf(seq)})
			if err == ErrBusy {
				continue
			}
			if err != nil {
				t.Error(err)
				return
			}
			seq++
		}
	}()

	for seq := uint32(1); seq <= count; {
		f, err := consumer.Poll(ctx)
		require.NoError(t, err)
		if f == nil {
			continue
		}
		require.Equal(t, seq, f.Sequence)
		require.Equal(t, seq*3, f.Code)
		require.Equal(t, payloadOf(seq), f.Payload)
		seq++
	}
	wg.Wait()
}
