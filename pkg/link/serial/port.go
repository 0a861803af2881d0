package serial

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	uart "github.com/goburrow/serial"
)

// DefaultBaudRate is used when the URL doesn't name one.
const DefaultBaudRate = 115200

// ParseURL builds a port config from serial:///dev/ttyUSB0?baud=115200&parity=N
// (or serial://COM3 on Windows). data and stop select the data and stop bits.
func ParseURL(raw string) (*uart.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	conf := &uart.Config{
		Address:  u.Path,
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  DefaultTimeout,
	}
	if conf.Address == "" {
		conf.Address = u.Host
	}
	if conf.Address == "" {
		return nil, fmt.Errorf("serial port required in %q", raw)
	}
	query := u.Query()
	for name, field := range map[string]*int{
		"baud": &conf.BaudRate,
		"data": &conf.DataBits,
		"stop": &conf.StopBits,
	} {
		if val := query.Get(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("serial parameter %s: %w", name, err)
			}
			*field = n
		}
	}
	switch parity := query.Get("parity"); parity {
	case "":
	case "N", "E", "O":
		conf.Parity = parity
	default:
		return nil, fmt.Errorf("serial parity %q, want N, E or O", parity)
	}
	return conf, nil
}

// Open opens a serial port and starts a Link on it. A read timeout is
// required so Close can stop the reader.
func Open(conf *uart.Config) (*Link, error) {
	if conf.Timeout <= 0 {
		c := *conf
		c.Timeout = DefaultTimeout
		conf = &c
	}
	port, err := uart.Open(conf)
	if err != nil {
		return nil, err
	}
	return New(port), nil
}

// Dial opens the port named by a serial:// URL.
func Dial(raw string) (*Link, error) {
	conf, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return Open(conf)
}

func isTimeout(err error) bool {
	return errors.Is(err, uart.ErrTimeout) || os.IsTimeout(err)
}
