// Package memlink carries channel.Memory accesses over a packet link, so a
// controller can reach target memory exposed by another process.
package memlink

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/robotalks/corpc/pkg/channel"
)

// Op is a memory operation.
type Op byte

// Operations.
const (
	OpReadWord   Op = 1
	OpWriteWord  Op = 2
	OpReadBlock  Op = 3
	OpWriteBlock Op = 4
	OpFence      Op = 5

	// OpReply is set on the op of a reply.
	OpReply Op = 0x80
)

// Reply status.
const (
	StatusOK         byte = 0
	StatusBadRequest byte = 1
	StatusOutOfRange byte = 2
	StatusNotAligned byte = 3
	StatusFailed     byte = 4
)

const (
	requestHeaderSize = 13
	replyHeaderSize   = 6
)

var (
	// ErrBadPacket indicates a packet too short or with an unknown op.
	ErrBadPacket = errors.New("bad memlink packet")
	// ErrRemote indicates the server failed the access.
	ErrRemote = errors.New("remote memory error")
	// ErrClosed indicates the link is gone.
	ErrClosed = errors.New("memlink closed")
)

// Request is a decoded request packet.
type Request struct {
	Op     Op
	ID     uint32
	Addr   uint32
	Length uint32
	Data   []byte
}

// Encode encodes the request as
// op u8 | id u32 | addr u32 | len u32 | data, all little-endian.
func (r *Request) Encode() []byte {
	pkt := make([]byte, requestHeaderSize+len(r.Data))
	pkt[0] = byte(r.Op)
	binary.LittleEndian.PutUint32(pkt[1:], r.ID)
	binary.LittleEndian.PutUint32(pkt[5:], r.Addr)
	binary.LittleEndian.PutUint32(pkt[9:], r.Length)
	copy(pkt[requestHeaderSize:], r.Data)
	return pkt
}

// DecodeRequest decodes a request packet.
func DecodeRequest(pkt []byte) (*Request, error) {
	if len(pkt) < requestHeaderSize || Op(pkt[0])&OpReply != 0 {
		return nil, ErrBadPacket
	}
	return &Request{
		Op:     Op(pkt[0]),
		ID:     binary.LittleEndian.Uint32(pkt[1:]),
		Addr:   binary.LittleEndian.Uint32(pkt[5:]),
		Length: binary.LittleEndian.Uint32(pkt[9:]),
		Data:   pkt[requestHeaderSize:],
	}, nil
}

// Reply is a decoded reply packet.
type Reply struct {
	Op     Op
	ID     uint32
	Status byte
	Data   []byte
}

// Encode encodes the reply as op|0x80 u8 | id u32 | status u8 | data.
func (r *Reply) Encode() []byte {
	pkt := make([]byte, replyHeaderSize+len(r.Data))
	pkt[0] = byte(r.Op | OpReply)
	binary.LittleEndian.PutUint32(pkt[1:], r.ID)
	pkt[5] = r.Status
	copy(pkt[replyHeaderSize:], r.Data)
	return pkt
}

// DecodeReply decodes a reply packet.
func DecodeReply(pkt []byte) (*Reply, error) {
	if len(pkt) < replyHeaderSize || Op(pkt[0])&OpReply == 0 {
		return nil, ErrBadPacket
	}
	return &Reply{
		Op:     Op(pkt[0]) &^ OpReply,
		ID:     binary.LittleEndian.Uint32(pkt[1:]),
		Status: pkt[5],
		Data:   pkt[replyHeaderSize:],
	}, nil
}

// Err converts the reply status into an error.
func (r *Reply) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusOutOfRange:
		return fmt.Errorf("%s: %w", r.Data, channel.ErrOutOfRange)
	case StatusNotAligned:
		return fmt.Errorf("%s: %w", r.Data, channel.ErrNotAligned)
	case StatusBadRequest:
		return fmt.Errorf("%s: %w", r.Data, ErrBadPacket)
	}
	return fmt.Errorf("%s: %w", r.Data, ErrRemote)
}

func statusOf(err error) byte {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, channel.ErrOutOfRange):
		return StatusOutOfRange
	case errors.Is(err, channel.ErrNotAligned):
		return StatusNotAligned
	case errors.Is(err, ErrBadPacket):
		return StatusBadRequest
	}
	return StatusFailed
}
