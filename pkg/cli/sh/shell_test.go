package sh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robotalks/corpc/pkg/rpc"
)

func TestFormatResponse(t *testing.T) {
	tests := []struct {
		name string
		rsp  rpc.Response
		out  string
	}{
		{"ok empty", rpc.Response{Status: rpc.StatusOK}, "OK"},
		{"ok data", rpc.Response{Status: rpc.StatusOK, Data: []byte{0xca, 0xfe}}, "cafe"},
		{"handler error", rpc.Response{Status: rpc.StatusHandlerError, Data: []byte("boom")}, "handler-error: boom"},
		{"user status", rpc.Response{Status: rpc.StatusUser + 1, Data: []byte("outside")}, "user-0x101: outside"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.out, FormatResponse(&tc.rsp))
		})
	}
}
