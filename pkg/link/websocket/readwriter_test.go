package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/corpc/pkg/link"
)

func TestReadWriterEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(Handler(ctx, func(ctx context.Context, rw link.PacketReadWriter) error {
		for {
			pkt, err := rw.ReadPacket()
			if err != nil {
				return err
			}
			if err = rw.WritePacket(append([]byte("re:"), pkt...)); err != nil {
				return err
			}
		}
	}))
	defer srv.Close()

	rw, err := Dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer rw.Close()

	for _, msg := range []string{"a", "hello", string([]byte{0, 1, 2})} {
		require.NoError(t, rw.WritePacket([]byte(msg)))
		pkt, err := rw.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, "re:"+msg, string(pkt))
	}
}
