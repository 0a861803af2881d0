package memlink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/link"
	"github.com/robotalks/corpc/pkg/link/stream"
)

// MaxBlockSize bounds a single block access.
const MaxBlockSize = link.MaxPacketSize - requestHeaderSize

// Server executes memlink requests against a local Memory.
type Server struct {
	Memory channel.Memory
}

// NewServer creates a Server.
func NewServer(mem channel.Memory) *Server {
	return &Server{Memory: mem}
}

// Serve handles requests on one link until it fails or ctx is done.
// Requests are executed in order.
func (s *Server) Serve(ctx context.Context, rw link.PacketReadWriter) error {
	closer, _ := rw.(io.Closer)
	if closer == nil {
		closer = io.NopCloser(nil)
	}
	return framework.RunWithContextCloser(ctx, closer, func() error {
		for {
			pkt, err := rw.ReadPacket()
			if err != nil {
				return err
			}
			if err = rw.WritePacket(s.Execute(ctx, pkt).Encode()); err != nil {
				return err
			}
		}
	})
}

// ServeListener accepts stream links until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	return framework.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			glog.V(1).Infof("memlink: link from %s", conn.RemoteAddr())
			go func() {
				err := s.Serve(ctx, stream.New(conn))
				glog.V(1).Infof("memlink: link from %s closed: %v", conn.RemoteAddr(), err)
			}()
		}
	})
}

// Execute runs a single request packet and builds the reply.
func (s *Server) Execute(ctx context.Context, pkt []byte) *Reply {
	req, err := DecodeRequest(pkt)
	if err != nil {
		rep := &Reply{Status: StatusBadRequest, Data: []byte(err.Error())}
		if len(pkt) >= 5 {
			rep.Op, rep.ID = Op(pkt[0])&^OpReply, binary.LittleEndian.Uint32(pkt[1:])
		}
		return rep
	}
	data, err := s.execute(ctx, req)
	rep := &Reply{Op: req.Op, ID: req.ID, Status: statusOf(err), Data: data}
	if err != nil {
		glog.V(2).Infof("memlink: op %d at %#08x: %v", req.Op, req.Addr, err)
		rep.Data = []byte(err.Error())
	}
	return rep
}

func (s *Server) execute(ctx context.Context, req *Request) ([]byte, error) {
	switch req.Op {
	case OpReadWord:
		val, err := s.Memory.ReadWord(ctx, req.Addr)
		if err != nil {
			return nil, err
		}
		data := make([]byte, channel.WordSize)
		binary.LittleEndian.PutUint32(data, val)
		return data, nil
	case OpWriteWord:
		if len(req.Data) != int(channel.WordSize) {
			return nil, ErrBadPacket
		}
		return nil, s.Memory.WriteWord(ctx, req.Addr, binary.LittleEndian.Uint32(req.Data))
	case OpReadBlock:
		if req.Length > MaxBlockSize {
			return nil, fmt.Errorf("read %d bytes: %w", req.Length, ErrBadPacket)
		}
		buf := make([]byte, req.Length)
		if err := s.Memory.ReadBlock(ctx, req.Addr, buf); err != nil {
			return nil, err
		}
		return buf, nil
	case OpWriteBlock:
		if uint32(len(req.Data)) != req.Length {
			return nil, ErrBadPacket
		}
		return nil, s.Memory.WriteBlock(ctx, req.Addr, req.Data)
	case OpFence:
		if fencer, ok := s.Memory.(channel.Fencer); ok {
			return nil, fencer.Fence(ctx)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("op %d: %w", req.Op, ErrBadPacket)
}
