// Package rpc adds shell commands issuing calls to the connected target.
package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/corpc/pkg/cli/sh"
	"github.com/robotalks/corpc/pkg/sim"
)

var (
	// CallCmd issues an arbitrary call.
	CallCmd = ishell.Cmd{
		Name:    "call",
		Aliases: []string{"x"},
		Help:    "OPCODE [HEX] [TIMEOUT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("OPCODE required"))
				return
			}
			opcode, err := ParseUint32("OPCODE", c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			var payload []byte
			if len(c.Args) > 1 {
				if payload, err = ParseHex(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
			}
			var timeout time.Duration
			if len(c.Args) > 2 {
				if timeout, err = ParseTimeout(c.Args[2]); err != nil {
					c.Err(err)
					return
				}
			}
			sh.DoCall(c, opcode, payload, timeout)
		}),
	}

	// PingCmd measures the round trip of an echo call.
	PingCmd = ishell.Cmd{
		Name:    "ping",
		Aliases: []string{"p"},
		Help:    "[COUNT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			count := uint32(1)
			if len(c.Args) > 0 {
				n, err := ParseUint32("COUNT", c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				count = n
			}
			for i := uint32(0); i < count; i++ {
				probe := words(i, uint32(time.Now().UnixNano()))
				start := time.Now()
				rsp, err := sh.Call(c, sim.OpEcho, probe, 0)
				if err != nil {
					return
				}
				if err = rsp.Err(); err != nil {
					c.Err(err)
					return
				}
				if !bytes.Equal(rsp.Data, probe) {
					c.Err(fmt.Errorf("seq %d: echo mismatch", rsp.Sequence))
					return
				}
				c.Printf("seq=%d time=%v\n", rsp.Sequence, time.Since(start))
			}
		}),
	}

	// InfoCmd shows the target description.
	InfoCmd = ishell.Cmd{
		Name:    "info",
		Aliases: []string{"i"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			rsp, err := sh.Call(c, sim.OpInfo, nil, 0)
			if err != nil {
				return
			}
			if err = rsp.Err(); err != nil {
				c.Err(err)
				return
			}
			info, err := sim.DecodeInfo(rsp.Data)
			if err != nil {
				c.Err(err)
				return
			}
			if sh.ShellFrom(c).OutputJSON {
				out, err := json.Marshal(info)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			c.Printf("%s v%d: %d slot(s), capacity %d/%d, scratch %#08x+%#x\n",
				info.Name, info.Version, info.Slots,
				info.CommandCapacity, info.ResponseCapacity,
				info.ScratchBase, info.ScratchSize)
		}),
	}

	// PeekCmd reads the target scratch area.
	PeekCmd = ishell.Cmd{
		Name: "peek",
		Help: "ADDR LEN",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("ADDR and LEN required"))
				return
			}
			addr, err := ParseUint32("ADDR", c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			n, err := ParseUint32("LEN", c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCall(c, sim.OpPeek, words(addr, n), 0)
		}),
	}

	// PokeCmd writes the target scratch area.
	PokeCmd = ishell.Cmd{
		Name: "poke",
		Help: "ADDR HEX",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("ADDR and HEX required"))
				return
			}
			addr, err := ParseUint32("ADDR", c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			data, err := ParseHex(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCall(c, sim.OpPoke, append(words(addr), data...), 0)
		}),
	}

	// SleepCmd keeps the target busy, to observe timeouts.
	SleepCmd = ishell.Cmd{
		Name: "sleep",
		Help: "MILLISECONDS [TIMEOUT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("MILLISECONDS required"))
				return
			}
			ms, err := ParseUint32("MILLISECONDS", c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			var timeout time.Duration
			if len(c.Args) > 1 {
				if timeout, err = ParseTimeout(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
			}
			payload := make([]byte, 4)
			binary.LittleEndian.PutUint32(payload, ms)
			sh.DoCall(c, sim.OpSleep, payload, timeout)
		}),
	}
)

func init() {
	sh.AddCmds(
		&CallCmd,
		&PingCmd,
		&InfoCmd,
		&PeekCmd,
		&PokeCmd,
		&SleepCmd,
	)
}
