package serial

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(p *Parser, in ...byte) (pr ParseResult) {
	for _, b := range in {
		pr = p.Parse(b)
	}
	return
}

func syncedParser(t *testing.T, peerSeq byte) *Parser {
	p := &Parser{}
	require.Equal(t, ParseResult{Sync: syncREQ, State: SyncStateSyncing}, p.Reset())
	require.Equal(t, ParseResult{State: SyncStateSyncing | SyncStateReceiving}, p.Parse(syncREQ))
	require.Equal(t, ParseResult{Sync: syncACK, State: SyncStateReady}, p.Parse(peerSeq))
	return p
}

var (
	ready     = ParseResult{State: SyncStateReady}
	receiving = ParseResult{State: SyncStateReady | SyncStateReceiving}
	resync    = ParseResult{Sync: syncREQ, State: SyncStateSyncing}
)

func TestParser(t *testing.T) {
	testCases := []struct {
		name  string
		steps [][]byte
		want  []ParseResult
	}{
		{
			name:  "single frame",
			steps: [][]byte{{0x10}, {0x31, 'a', 'b'}, {'c'}},
			want:  []ParseResult{receiving, receiving, {State: SyncStateReady, Packet: []byte("abc")}},
		},
		{
			name:  "fragments",
			steps: [][]byte{{0x10, 0x20, 1, 2}, {0x11, 0x11, 3}},
			want:  []ParseResult{ready, {State: SyncStateReady, Packet: []byte{1, 2, 3}}},
		},
		{
			name:  "long length",
			steps: [][]byte{{0x10, 0x71, 8, 1, 2, 3, 4, 5, 6, 7, 8}},
			want:  []ParseResult{{State: SyncStateReady, Packet: []byte{1, 2, 3, 4, 5, 6, 7, 8}}},
		},
		{
			name:  "wrong seq",
			steps: [][]byte{{0x12}},
			want:  []ParseResult{resync},
		},
		{
			name:  "reserved ctl bits",
			steps: [][]byte{{0x10, 0x02}},
			want:  []ParseResult{resync},
		},
		{
			name:  "long length too large",
			steps: [][]byte{{0x10, 0x71, 0x80}},
			want:  []ParseResult{resync},
		},
		{
			name:  "re-ack",
			steps: [][]byte{{syncACK}, {0x10}, {syncACK, 0x33}},
			want:  []ParseResult{receiving, ready, resync},
		},
		{
			name:  "peer restarts",
			steps: [][]byte{{0x10, 0x20, 1, 2}, {syncREQ, 0x40}, {0x40, 0x11, 9}},
			want:  []ParseResult{ready, {Sync: syncACK, State: SyncStateReady}, {State: SyncStateReady, Packet: []byte{9}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := syncedParser(t, 0x10)
			for n, step := range tc.steps {
				assert.Equal(t, tc.want[n], feed(p, step...), "step %d", n)
			}
		})
	}
}

func TestParserEmptyPacket(t *testing.T) {
	p := syncedParser(t, 0x10)
	pr := feed(p, 0x10, 0x01)
	require.NotNil(t, pr.Packet)
	assert.Empty(t, pr.Packet)
}

func TestParserSyncByAck(t *testing.T) {
	p := &Parser{}
	p.Reset()
	assert.Equal(t, ready, feed(p, syncACK, 0x20))
	assert.Equal(t, resync, feed(p, syncACK, 0xf0))
}

func TestParserTimeout(t *testing.T) {
	p := syncedParser(t, 0x10)
	assert.Equal(t, ready, p.Timeout())
	assert.Equal(t, receiving, p.Parse(0x10))
	assert.Equal(t, resync, p.Timeout())
	assert.Equal(t, resync, p.Timeout())
}

func TestFrameEncode(t *testing.T) {
	assert.Equal(t, []byte{5, 0x21, 1, 2}, (&Frame{Seq: 5, Last: true, Data: []byte{1, 2}}).Encode())
	assert.Equal(t, []byte{5, 0x01}, (&Frame{Seq: 5, Last: true}).Encode())
	assert.Equal(t,
		[]byte{6, 0x70, 7, 1, 2, 3, 4, 5, 6, 7},
		(&Frame{Seq: 6, Data: []byte{1, 2, 3, 4, 5, 6, 7}}).Encode())
}

func TestSplit(t *testing.T) {
	pkt := bytes.Repeat([]byte{0x5a}, 300)
	frames, next := Split(pkt, 0xef)
	require.Len(t, frames, 3)
	assert.Equal(t, []Seq{0xef, 1, 2}, []Seq{frames[0].Seq, frames[1].Seq, frames[2].Seq})
	assert.Equal(t, []bool{false, false, true}, []bool{frames[0].Last, frames[1].Last, frames[2].Last})
	assert.Equal(t, []int{127, 127, 46}, []int{len(frames[0].Data), len(frames[1].Data), len(frames[2].Data)})
	assert.Equal(t, Seq(3), next)

	p := syncedParser(t, 0xef)
	var pr ParseResult
	for _, f := range frames {
		pr = feed(p, f.Encode()...)
	}
	assert.Equal(t, pkt, pr.Packet)

	frames, next = Split(nil, 7)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Last)
	assert.Equal(t, Seq(8), next)
}

func TestSeq(t *testing.T) {
	assert.Equal(t, Seq(1), Seq(0xef).Next())
	assert.Equal(t, Seq(1), Seq(0xff).Next())
	assert.Equal(t, Seq(0x11), Seq(0x10).Next())
	assert.False(t, Seq(0).IsValid())
	assert.False(t, Seq(0xf0).IsValid())
	assert.True(t, NewSeq().IsValid())
}
