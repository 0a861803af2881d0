package stream

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/corpc/pkg/link"
)

func TestReadWriterFraming(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf)
	require.NoError(t, rw.WritePacket([]byte{1, 2, 3}))
	require.NoError(t, rw.WritePacket(nil))
	assert.Equal(t, []byte{3, 0, 0, 0, 1, 2, 3, 0, 0, 0, 0}, buf.Bytes())

	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, pkt)
	pkt, err = rw.ReadPacket()
	require.NoError(t, err)
	assert.Empty(t, pkt)
}

func TestReadWriterRejectsOversize(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0x7f})
	_, err := New(buf).ReadPacket()
	assert.True(t, errors.Is(err, link.ErrPacketTooLarge), "got %v", err)
}

func TestReadWriterOverPipe(t *testing.T) {
	a, b := net.Pipe()
	ra, rb := New(a), New(b)
	defer ra.Close()
	defer rb.Close()

	go func() {
		for i := 0; i < 3; i++ {
			pkt, err := rb.ReadPacket()
			if err != nil {
				return
			}
			rb.WritePacket(append(pkt, byte(i)))
		}
	}()
	for i := 0; i < 3; i++ {
		require.NoError(t, ra.WritePacket([]byte("ping")))
		pkt, err := ra.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, append([]byte("ping"), byte(i)), pkt)
	}
}
