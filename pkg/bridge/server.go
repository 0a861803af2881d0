package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge/msgs"
	"github.com/robotalks/corpc/pkg/link"
	"github.com/robotalks/corpc/pkg/rpc"
)

// DefaultMaxTimeout caps the timeout a peer may request.
const DefaultMaxTimeout = 10 * time.Second

// Server performs calls received on a link.
type Server struct {
	Caller     rpc.Caller
	MaxTimeout time.Duration

	sendLock sync.Mutex
}

// NewServer creates a Server.
func NewServer(caller rpc.Caller) *Server {
	return &Server{Caller: caller, MaxTimeout: DefaultMaxTimeout}
}

// Serve handles requests until the link fails or ctx is done. Requests run
// concurrently; the Caller decides how many reach the target at once.
func (s *Server) Serve(ctx context.Context, rw link.PacketReadWriter) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		pkt, err := rw.ReadPacket()
		if err != nil {
			return err
		}
		msg, err := msgs.Decode(pkt)
		if err != nil {
			glog.Warningf("bridge: drop packet: %v", err)
			continue
		}
		req, ok := msg.(*msgs.CallRequest)
		if !ok {
			glog.Warningf("bridge: unexpected %T", msg)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.send(rw, s.call(ctx, req)); err != nil {
				glog.Errorf("bridge: reply %d: %v", req.Id, err)
			}
		}()
	}
}

func (s *Server) call(ctx context.Context, req *msgs.CallRequest) *msgs.CallReply {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if limit := s.MaxTimeout; limit > 0 && (timeout <= 0 || timeout > limit) {
		timeout = limit
	}
	rsp, err := s.Caller.Call(ctx, req.Opcode, req.Payload, timeout)
	reply := &msgs.CallReply{Id: req.Id}
	if err != nil {
		glog.V(1).Infof("bridge: call %d opcode %#x: %v", req.Id, req.Opcode, err)
		reply.Error = err.Error()
		return reply
	}
	reply.Status, reply.Payload = uint32(rsp.Status), rsp.Data
	return reply
}

func (s *Server) send(rw link.PacketWriter, reply *msgs.CallReply) error {
	pkt, err := msgs.Encode(reply)
	if err != nil {
		return err
	}
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	return rw.WritePacket(pkt)
}
