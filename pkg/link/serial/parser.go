package serial

import "github.com/robotalks/corpc/pkg/link"

// SyncState indicates the state of communication.
type SyncState int

const (
	// SyncStateSyncing means the communication is not synchronized.
	SyncStateSyncing SyncState = 0
	// SyncStateReady means the communication is synchronized and ready for packets.
	SyncStateReady SyncState = 0x01
	// SyncStateReceiving means a sync or a frame is partially received.
	SyncStateReceiving SyncState = 0x02
)

// IsReady indicates if the communication is ready for packets.
func (s SyncState) IsReady() bool {
	return s&SyncStateReady != 0
}

// IsReceiving indicates if it's in the middle of syncing or receiving a frame.
func (s SyncState) IsReceiving() bool {
	return s&SyncStateReceiving != 0
}

// ParseResult is the outcome of one parsing step.
type ParseResult struct {
	// Sync is a sync byte to send to the peer, 0 for none.
	Sync  byte
	State SyncState
	// Packet is set when the last frame of a packet is received.
	Packet []byte
}

type parseState int

const (
	waitSync      parseState = iota // syncREQ sent, waiting for the peer
	waitReqSeq                      // got syncREQ, waiting for its seq
	waitAckSeq                      // got syncACK, waiting for its seq
	waitFrame                       // synchronized, waiting for a frame seq
	waitReAckSeq                    // got syncACK while synchronized
	waitCtl                         // waiting for the frame ctl byte
	waitLen                         // waiting for the long length byte
	waitData                        // receiving frame data
)

// Parser decodes the byte stream from the peer, one byte at a time.
type Parser struct {
	peerSeq Seq
	state   parseState
	last    bool
	data    []byte
	want    int
	packet  []byte
}

// State gets the current sync state.
func (p *Parser) State() SyncState {
	switch {
	case p.state == waitSync:
		return SyncStateSyncing
	case p.state == waitFrame:
		return SyncStateReady
	case p.state > waitFrame:
		return SyncStateReady | SyncStateReceiving
	default:
		return SyncStateSyncing | SyncStateReceiving
	}
}

// Reset drops any partial packet and requests synchronization.
func (p *Parser) Reset() ParseResult {
	return p.result(p.resync())
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) ParseResult {
	return p.result(p.parseByte(b))
}

// Timeout tells the parser the peer went quiet in the middle of something.
func (p *Parser) Timeout() ParseResult {
	if p.state == waitFrame {
		return p.result(0, nil)
	}
	return p.result(p.resync())
}

func (p *Parser) result(sync byte, pkt []byte) ParseResult {
	return ParseResult{Sync: sync, State: p.State(), Packet: pkt}
}

func (p *Parser) parseByte(b byte) (byte, []byte) {
	switch p.state {
	case waitSync:
		switch b {
		case syncREQ:
			p.state = waitReqSeq
		case syncACK:
			p.state = waitAckSeq
		}
	case waitReqSeq, waitAckSeq:
		seq := Seq(b)
		if !seq.IsValid() {
			return p.resync()
		}
		var sync byte
		if p.state == waitReqSeq {
			sync = syncACK
		}
		p.peerSeq, p.state = seq, waitFrame
		p.packet = nil
		return sync, nil
	case waitFrame:
		switch {
		case b == syncREQ:
			p.state = waitReqSeq
		case b == syncACK:
			p.state = waitReAckSeq
		case Seq(b) != p.peerSeq:
			return p.resync()
		default:
			p.peerSeq = p.peerSeq.Next()
			p.state = waitCtl
		}
	case waitReAckSeq:
		if Seq(b) != p.peerSeq {
			return p.resync()
		}
		p.state = waitFrame
	case waitCtl:
		if b&ctlReserved != 0 {
			return p.resync()
		}
		p.last = b&ctlLast != 0
		switch n := (b & ctlLenMask) >> ctlLenShift; n {
		case 0:
			return p.frameReady()
		case ctlLongLen:
			p.state = waitLen
		default:
			p.want, p.data = int(n), p.data[:0]
			p.state = waitData
		}
	case waitLen:
		if b > MaxFrameData {
			return p.resync()
		}
		if b == 0 {
			return p.frameReady()
		}
		p.want, p.data = int(b), p.data[:0]
		p.state = waitData
	case waitData:
		p.data = append(p.data, b)
		if len(p.data) >= p.want {
			return p.frameReady()
		}
	}
	return 0, nil
}

func (p *Parser) resync() (byte, []byte) {
	p.state = waitSync
	p.packet = nil
	return syncREQ, nil
}

// frameReady appends the frame to the packet being reassembled.
func (p *Parser) frameReady() (byte, []byte) {
	p.state = waitFrame
	p.packet = append(p.packet, p.data...)
	p.want, p.data = 0, p.data[:0]
	if len(p.packet) > link.MaxPacketSize {
		return p.resync()
	}
	if !p.last {
		return 0, nil
	}
	pkt := p.packet
	if pkt == nil {
		pkt = []byte{}
	}
	p.packet = nil
	return 0, pkt
}
