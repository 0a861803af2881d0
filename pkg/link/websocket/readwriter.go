package websocket

import (
	"context"
	"net/http"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/corpc/pkg/link"
)

// ReadWriter implements link.PacketReadWriter, one binary message per packet.
type ReadWriter websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	conn.PayloadType = websocket.BinaryFrame
	return (*ReadWriter)(conn)
}

// Dial connects to a websocket URL.
func Dial(url string) (*ReadWriter, error) {
	conn, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() (pkt []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &pkt)
	return
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), pkt)
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	return (*websocket.Conn)(p).Close()
}

// ServeFunc serves one accepted link until it fails or ctx is done.
type ServeFunc func(ctx context.Context, rw link.PacketReadWriter) error

// Handler creates an http.Handler accepting websocket links.
func Handler(ctx context.Context, serve ServeFunc) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		rw := New(conn)
		defer rw.Close()
		glog.V(1).Infof("websocket: link from %s", conn.Request().RemoteAddr)
		if err := serve(ctx, rw); err != nil {
			glog.V(1).Infof("websocket: link from %s closed: %v", conn.Request().RemoteAddr, err)
		}
	})
}
