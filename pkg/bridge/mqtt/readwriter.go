package mqtt

import (
	"context"
	"io"
	"sync"
)

// Topic suffixes under a bridge id.
const (
	TopicCall  = "/call"
	TopicReply = "/reply"
	TopicMeta  = "/meta"
)

// ReadWriter implements link.PacketReadWriter over a pair of topics.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh  chan []byte
	sub       *Subscription
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForCaller sets topics for the calling side:
// SubTopic = id/reply
// PubTopic = id/call
func (p *ReadWriter) ForCaller(id string) *ReadWriter {
	return p.WithTopics(id+TopicReply, id+TopicCall)
}

// ForBridge sets topics for the bridge side:
// SubTopic = id/call
// PubTopic = id/reply
func (p *ReadWriter) ForBridge(id string) *ReadWriter {
	return p.WithTopics(id+TopicCall, id+TopicReply)
}

// Subscribe starts receiving packets.
func (p *ReadWriter) Subscribe(ctx context.Context) error {
	p.sub = p.Queue.Sub(p.SubTopic, p.handleMsg)
	return Wait(ctx, p.sub.Token)
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	token := p.Queue.Pub(p.PubTopic, pkt)
	token.Wait()
	return token.Error()
}

// Close implements io.Closer. The Queue stays connected.
func (p *ReadWriter) Close() (err error) {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.sub != nil {
			err = p.sub.Close()
		}
	})
	return
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.closed:
	}
}
