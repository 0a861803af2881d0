// Package link defines packet oriented links carrying memlink and bridge
// traffic between hosts.
package link

import "errors"

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// MaxPacketSize bounds a single packet on length prefixed links.
const MaxPacketSize = 1 << 20

// ErrPacketTooLarge indicates a packet exceeds MaxPacketSize.
var ErrPacketTooLarge = errors.New("packet too large")
