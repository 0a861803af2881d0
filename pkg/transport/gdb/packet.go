package gdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrChecksum indicates a packet failed its checksum.
	ErrChecksum = errors.New("gdb: bad checksum")
	// ErrNack indicates the server kept rejecting a packet.
	ErrNack = errors.New("gdb: packet rejected")
)

func checksum(data string) byte {
	var sum byte
	for i := 0; i < len(data); i++ {
		sum += data[i]
	}
	return sum
}

// writePacket frames data as $data#cs. Payloads produced here never contain
// the characters needing escape ($, #, } and *).
func writePacket(w io.Writer, data string) error {
	_, err := fmt.Fprintf(w, "$%s#%02x", data, checksum(data))
	return err
}

// readPacket reads the next packet, skipping acks and noise in between.
func readPacket(r *bufio.Reader) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '$' {
			break
		}
	}
	body, err := r.ReadString('#')
	if err != nil {
		return "", err
	}
	body = body[:len(body)-1]
	var cs [2]byte
	if _, err = io.ReadFull(r, cs[:]); err != nil {
		return "", err
	}
	sum, err := strconv.ParseUint(string(cs[:]), 16, 8)
	if err != nil || byte(sum) != checksum(body) {
		return "", ErrChecksum
	}
	return expand(body)
}

// expand undoes escaping and run-length encoding.
func expand(body string) (string, error) {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch c := body[i]; c {
		case '}':
			if i++; i >= len(body) {
				return "", fmt.Errorf("gdb: dangling escape")
			}
			out = append(out, body[i]^0x20)
		case '*':
			if len(out) == 0 || i+1 >= len(body) {
				return "", fmt.Errorf("gdb: bad run length")
			}
			i++
			last := out[len(out)-1]
			for n := int(body[i]) - 29; n > 0; n-- {
				out = append(out, last)
			}
		default:
			out = append(out, c)
		}
	}
	return string(out), nil
}
