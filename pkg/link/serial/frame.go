package serial

import (
	"time"
)

// Seq numbers the frames sent in one direction.
type Seq byte

// NewSeq picks a starting number from the clock.
func NewSeq() Seq {
	return Seq(byte(time.Now().UnixNano())).Next()
}

// Next returns the number following s, skipping the reserved values.
func (s Seq) Next() Seq {
	n := byte(s) + 1
	if n == 0 || n >= 0xf0 {
		n = 1
	}
	return Seq(n)
}

// IsValid reports whether s can number a frame. 0 and 0xf0 and above are
// reserved for sync bytes.
func (s Seq) IsValid() bool {
	n := byte(s)
	return n > 0 && n < 0xf0
}

const (
	syncREQ byte = 0xff
	syncACK byte = 0xfe

	ctlLast     byte = 0x01
	ctlLenMask  byte = 0x70
	ctlLenShift      = 4
	ctlLongLen  byte = 7
	ctlReserved byte = 0x8e
)

// MaxFrameData is the largest data carried by a single frame.
const MaxFrameData = 0x7f

// Frame is a piece of a packet.
type Frame struct {
	Seq  Seq
	Last bool
	Data []byte
}

// Encode returns the bytes on the wire. Data beyond MaxFrameData is dropped.
func (f *Frame) Encode() []byte {
	data := f.Data
	if len(data) > MaxFrameData {
		data = data[:MaxFrameData]
	}
	ctl := byte(0)
	if f.Last {
		ctl |= ctlLast
	}
	b := make([]byte, 0, len(data)+3)
	if n := byte(len(data)); n < ctlLongLen {
		b = append(b, byte(f.Seq), ctl|n<<ctlLenShift)
	} else {
		b = append(b, byte(f.Seq), ctl|ctlLongLen<<ctlLenShift, n)
	}
	return append(b, data...)
}

// Split cuts a packet into frames, numbered from seq. The returned Seq is
// the number of the frame after the last one.
func Split(pkt []byte, seq Seq) ([]Frame, Seq) {
	frames := make([]Frame, 0, len(pkt)/MaxFrameData+1)
	for {
		n := min(len(pkt), MaxFrameData)
		frames = append(frames, Frame{Seq: seq, Last: n == len(pkt), Data: pkt[:n]})
		seq = seq.Next()
		if pkt = pkt[n:]; len(pkt) == 0 {
			return frames, seq
		}
	}
}
