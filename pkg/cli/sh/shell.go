// Package sh provides the interactive shell of corpc-cli.
package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge"
	"github.com/robotalks/corpc/pkg/bridge/mqtt"
	"github.com/robotalks/corpc/pkg/env"
	"github.com/robotalks/corpc/pkg/link/websocket"
	"github.com/robotalks/corpc/pkg/rpc"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

// Session is an open connection to a target, direct or through a bridge.
type Session struct {
	Name   string
	Caller rpc.Caller
	Ctx    context.Context
	Cancel func()

	closer io.Closer
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

// ErrNotConnected is reported by commands requiring a Session.
var ErrNotConnected = errors.New("not connected")

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Session == nil {
			c.Err(ErrNotConnected)
			return
		}
		fn(c)
	}
}

// ResponseJSON is the JSON form of a response.
type ResponseJSON struct {
	Sequence uint32 `json:"seq"`
	Status   string `json:"status"`
	Code     uint32 `json:"code"`
	Data     string `json:"data,omitempty"`
}

// FormatResponse prints a response for display.
func FormatResponse(rsp *rpc.Response) string {
	if rsp.Status != rpc.StatusOK {
		return fmt.Sprintf("%s: %s", rsp.Status, string(rsp.Data))
	}
	if len(rsp.Data) == 0 {
		return "OK"
	}
	return hex.EncodeToString(rsp.Data)
}

// Call issues a call on the current session and returns the response.
// Errors are reported on c.
func Call(c *ishell.Context, opcode uint32, payload []byte, timeout time.Duration) (*rpc.Response, error) {
	s := ShellFrom(c)
	if s.Session == nil {
		c.Err(ErrNotConnected)
		return nil, ErrNotConnected
	}
	rsp, err := s.Session.Caller.Call(s.Session.Ctx, opcode, payload, timeout)
	if err != nil {
		c.Err(err)
		return nil, err
	}
	return rsp, nil
}

// DoCall runs a call and prints the response.
func DoCall(c *ishell.Context, opcode uint32, payload []byte, timeout time.Duration) error {
	rsp, err := Call(c, opcode, payload, timeout)
	if err != nil {
		return err
	}
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(&ResponseJSON{
			Sequence: rsp.Sequence,
			Status:   rsp.Status.String(),
			Code:     uint32(rsp.Status),
			Data:     hex.EncodeToString(rsp.Data),
		})
		if err != nil {
			c.Err(err)
			return err
		}
		c.Println(string(out))
		return nil
	}
	c.Println(FormatResponse(rsp))
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// DiscoverBridges lists the bridges on the configured broker.
func (s *Shell) DiscoverBridges(ctx context.Context) ([]mqtt.Info, error) {
	connector, err := mqtt.NewConnector(s.Config.MQTTURL)
	if err != nil {
		return nil, err
	}
	return connector.Discover(ctx)
}

const (
	bridgePrefix          = "bridge+"
	bridgeWebsocketPrefix = bridgePrefix + "ws"
)

// Connect opens a session. target is one of
//   - empty, for the configured link
//   - a link URL, e.g. tcp://localhost:3300
//   - a bridge websocket URL, e.g. bridge+ws://host:3302/call
//   - a bridge ID, looked up on the MQTT broker
func (s *Shell) Connect(target string) error {
	sess := &Session{Name: target}
	sess.Ctx, sess.Cancel = context.WithCancel(context.Background())
	switch {
	case strings.HasPrefix(target, bridgeWebsocketPrefix):
		rw, err := websocket.Dial(strings.TrimPrefix(target, bridgePrefix))
		if err != nil {
			sess.Cancel()
			return err
		}
		conn := bridge.NewConn(rw)
		conn.Timeout = s.Config.Timeout
		sess.Caller, sess.closer = conn, conn
	case target == "" || strings.Contains(target, "://"):
		conf := *s.Config
		if target != "" {
			conf.Link = target
		}
		sess.Name = conf.Link
		conn, err := conf.Connect(sess.Ctx, nil)
		if err != nil {
			sess.Cancel()
			return err
		}
		sess.Caller, sess.closer = conn, conn
	default:
		connector, err := mqtt.NewConnector(s.Config.MQTTURL)
		if err != nil {
			sess.Cancel()
			return err
		}
		conn, err := connector.Connect(sess.Ctx, target)
		if err != nil {
			sess.Cancel()
			return err
		}
		conn.Timeout = s.Config.Timeout
		sess.Caller, sess.closer = conn, conn
	}
	s.Disconnect()
	s.Session = sess
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", sess.Name))
	glog.V(1).Infof("sh: connected to %s", sess.Name)
	return nil
}

// Disconnect closes the current session.
func (s *Shell) Disconnect() {
	if s.Session != nil {
		s.Session.Cancel()
		if err := s.Session.closer.Close(); err != nil {
			glog.Warningf("sh: close %s: %v", s.Session.Name, err)
		}
		s.Session = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Link != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Link)
		}
		if err := s.Connect(""); err != nil {
			if !s.Interactive {
				glog.Exitf("connect %q failed: %v", s.Config.Link, err)
			}
			s.Shell.Printf("connect %q failed: %v\n", s.Config.Link, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Exit(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	glog.Exit("command expected")
}

var (
	// DiscoverCmd discovers bridges.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "list bridges on the MQTT broker",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			infoList, err := s.DiscoverBridges(context.Background())
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(infoList) == 0 {
					// in case infoList is nil, make it empty slice.
					infoList = []mqtt.Info{}
				}
				out, err := json.Marshal(infoList)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(infoList) == 0 {
				c.Println("No bridges found")
				return
			}
			for _, info := range infoList {
				c.Printf("%s: %s on %s, capacity %d, %d slot(s)\n",
					info.ID, info.Link, info.Host, info.Capacity, info.Slots)
			}
		},
	}

	// ConnectCmd connects a target.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[LINK-URL|BRIDGE-ID]",
		Func: func(c *ishell.Context) {
			var target string
			if len(c.Args) > 0 {
				target = c.Args[0]
			}
			if err := ShellFrom(c).Connect(target); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current target.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.MustDefault()).WithAutoConnect(true).Run(flag.Args()...)
}
