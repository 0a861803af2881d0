package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		data []byte
		ok   bool
	}{
		{"deadbeef", []byte{0xde, 0xad, 0xbe, 0xef}, true},
		{"0xDEADBEEF", []byte{0xde, 0xad, 0xbe, 0xef}, true},
		{"de:ad:be:ef", []byte{0xde, 0xad, 0xbe, 0xef}, true},
		{"", []byte{}, true},
		{"abc", nil, false},
		{"zz", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			data, err := ParseHex(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.data, data)
		})
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in string
		d  time.Duration
		ok bool
	}{
		{"250", 250 * time.Millisecond, true},
		{"2s", 2 * time.Second, true},
		{"1m30s", 90 * time.Second, true},
		{"soon", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseTimeout(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.d, d)
		})
	}
}

func TestParseUint32(t *testing.T) {
	v, err := ParseUint32("OPCODE", "0x11")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11), v)
	v, err = ParseUint32("OPCODE", "17")
	require.NoError(t, err)
	assert.Equal(t, uint32(17), v)
	_, err = ParseUint32("OPCODE", "-1")
	assert.Error(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0}, words(1, 2))
}
