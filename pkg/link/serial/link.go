package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/link"
)

var (
	// ErrNotReady indicates the peer didn't synchronize in time.
	ErrNotReady = errors.New("serial link not ready")
	// ErrClosed indicates the link is closed.
	ErrClosed = errors.New("serial link closed")
)

// Defaults of Link.
const (
	DefaultTimeout      = 100 * time.Millisecond
	DefaultReadyTimeout = 2 * time.Second
)

// Link implements link.PacketReadWriter over a byte stream.
type Link struct {
	rw io.ReadWriter
	// timeout bounds a handshake or a partially received frame before
	// resynchronizing; readyTimeout bounds WritePacket waiting for the peer.
	timeout      time.Duration
	readyTimeout time.Duration

	lock    sync.Mutex
	seq     Seq
	state   SyncState
	readyCh chan struct{}
	err     error

	parser   Parser
	packetCh chan []byte
	closed   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New starts synchronizing with the peer on rw.
func New(rw io.ReadWriter) *Link {
	return NewWithTimeout(rw, DefaultTimeout, DefaultReadyTimeout)
}

// NewWithTimeout is New with explicit timeouts.
func NewWithTimeout(rw io.ReadWriter, timeout, readyTimeout time.Duration) *Link {
	l := &Link{
		rw:           rw,
		timeout:      timeout,
		readyTimeout: readyTimeout,
		seq:          NewSeq(),
		readyCh:      make(chan struct{}),
		packetCh:     make(chan []byte, 16),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	go l.run()
	return l
}

// State gets the sync state.
func (l *Link) State() SyncState {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.state
}

// ReadPacket implements link.PacketReader.
func (l *Link) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-l.packetCh:
		return pkt, nil
	case <-l.done:
		select {
		case pkt := <-l.packetCh:
			return pkt, nil
		default:
			return nil, l.failure()
		}
	}
}

// WritePacket implements link.PacketWriter. It waits for the peer to
// synchronize first.
func (l *Link) WritePacket(pkt []byte) error {
	if len(pkt) > link.MaxPacketSize {
		return fmt.Errorf("%d bytes: %w", len(pkt), link.ErrPacketTooLarge)
	}
	var timer *time.Timer
	for {
		l.lock.Lock()
		if l.err != nil {
			l.lock.Unlock()
			return l.err
		}
		if l.state.IsReady() {
			break
		}
		readyCh := l.readyCh
		l.lock.Unlock()
		if timer == nil {
			timer = time.NewTimer(l.readyTimeout)
			defer timer.Stop()
		}
		select {
		case <-readyCh:
		case <-l.done:
		case <-timer.C:
			return ErrNotReady
		}
	}
	defer l.lock.Unlock()
	frames, next := Split(pkt, l.seq)
	buf := make([]byte, 0, len(pkt)+3*len(frames))
	for _, f := range frames {
		buf = append(buf, f.Encode()...)
	}
	if _, err := l.rw.Write(buf); err != nil {
		return err
	}
	l.seq = next
	return nil
}

// Close stops the link and closes the stream if it's an io.Closer.
func (l *Link) Close() (err error) {
	l.once.Do(func() {
		close(l.closed)
		if closer, ok := l.rw.(io.Closer); ok {
			err = closer.Close()
		}
		<-l.done
	})
	return
}

func (l *Link) failure() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.err
}

func (l *Link) run() {
	byteCh, errCh := make(chan byte), make(chan error, 1)
	go l.readLoop(byteCh, errCh)

	var timer <-chan time.Time
	apply := func(pr ParseResult) error {
		if err := l.apply(pr); err != nil {
			return err
		}
		switch {
		case pr.State.IsReceiving() || pr.Sync == syncREQ:
			timer = time.After(l.timeout)
		case pr.State.IsReady():
			timer = nil
		}
		if pr.Packet != nil {
			select {
			case l.packetCh <- pr.Packet:
			case <-l.closed:
			}
		}
		return nil
	}

	err := apply(l.parser.Reset())
	for err == nil {
		select {
		case b := <-byteCh:
			err = apply(l.parser.Parse(b))
		case err = <-errCh:
		case <-timer:
			err = apply(l.parser.Timeout())
		case <-l.closed:
			err = ErrClosed
		}
	}
	select {
	case <-l.closed:
		err = ErrClosed
	default:
	}
	glog.V(1).Infof("serial: link stopped: %v", err)

	l.lock.Lock()
	l.err = err
	l.state = SyncStateSyncing
	l.lock.Unlock()
	close(l.done)
}

// apply records the state and sends the sync bytes requested by the parser.
func (l *Link) apply(pr ParseResult) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.state != pr.State {
		glog.V(2).Infof("serial: state %d -> %d", l.state, pr.State)
		wasReady := l.state.IsReady()
		l.state = pr.State
		switch {
		case !wasReady && pr.State.IsReady():
			close(l.readyCh)
		case wasReady && !pr.State.IsReady():
			l.readyCh = make(chan struct{})
		}
	}
	if pr.Sync != 0 {
		_, err := l.rw.Write([]byte{pr.Sync, byte(l.seq)})
		return err
	}
	return nil
}

func (l *Link) readLoop(byteCh chan<- byte, errCh chan<- error) {
	buf := make([]byte, 1)
	for {
		n, err := l.rw.Read(buf)
		if err != nil && !isTimeout(err) {
			errCh <- err
			return
		}
		if n == 0 {
			select {
			case <-l.closed:
				return
			default:
				continue
			}
		}
		select {
		case byteCh <- buf[0]:
		case <-l.done:
			return
		}
	}
}
