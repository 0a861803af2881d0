package stream

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/robotalks/corpc/pkg/link"
)

// ReadWriter implements link.PacketReadWriter.
// Each packet is prefixed by 4-byte (little-endian) indicate the length.
type ReadWriter struct {
	io.ReadWriter

	writeLock sync.Mutex
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{ReadWriter: s}
}

// Dial connects to a TCP address.
func Dial(address string) (*ReadWriter, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var size uint32
	if err := binary.Read(p.ReadWriter, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > link.MaxPacketSize {
		return nil, fmt.Errorf("%d bytes: %w", size, link.ErrPacketTooLarge)
	}
	pkt := make([]byte, size)
	_, err := io.ReadFull(p.ReadWriter, pkt)
	return pkt, err
}

// WritePacket implements PacketWriter. Header and packet go out in a single
// write so concurrent writers never interleave.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	if len(pkt) > link.MaxPacketSize {
		return fmt.Errorf("%d bytes: %w", len(pkt), link.ErrPacketTooLarge)
	}
	buf := make([]byte, 4+len(pkt))
	binary.LittleEndian.PutUint32(buf, uint32(len(pkt)))
	copy(buf[4:], pkt)
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	_, err := p.Write(buf)
	return err
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
