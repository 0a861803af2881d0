package sim

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/link/serial"
	"github.com/robotalks/corpc/pkg/link/websocket"
	"github.com/robotalks/corpc/pkg/memlink"
)

// LinkServer exposes target memory to controllers over memlink, on a TCP
// stream listener, a websocket endpoint at /mem and a serial port, each
// optional.
type LinkServer struct {
	Memory           channel.Memory
	Address          string
	WebsocketAddress string
	// SerialPort is a serial:// URL.
	SerialPort string
}

// Name implements framework.Named.
func (s *LinkServer) Name() string {
	return "memlink"
}

// Run implements framework.Runnable.
func (s *LinkServer) Run(ctx context.Context) error {
	var tcpLn, wsLn net.Listener
	var err error
	if s.Address != "" {
		if tcpLn, err = net.Listen("tcp", s.Address); err != nil {
			return err
		}
	}
	if s.WebsocketAddress != "" {
		if wsLn, err = net.Listen("tcp", s.WebsocketAddress); err != nil {
			if tcpLn != nil {
				tcpLn.Close()
			}
			return err
		}
	}

	var port *serial.Link
	if s.SerialPort != "" {
		if port, err = serial.Dial(s.SerialPort); err != nil {
			for _, ln := range []net.Listener{tcpLn, wsLn} {
				if ln != nil {
					ln.Close()
				}
			}
			return err
		}
	}

	server := memlink.NewServer(s.Memory)
	runner := framework.NewRunnerWith(ctx).StopOnExit()
	if tcpLn != nil {
		glog.Infof("sim: memlink on tcp://%s", tcpLn.Addr())
		runner.Go(framework.NamedRun("memlink-tcp", framework.RunFunc(func(ctx context.Context) error {
			return server.ServeListener(ctx, tcpLn)
		})))
	}
	if wsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/mem", websocket.Handler(ctx, server.Serve))
		srv := &http.Server{Handler: mux}
		glog.Infof("sim: memlink on ws://%s/mem", wsLn.Addr())
		runner.Go(framework.NamedRun("memlink-ws", framework.RunFunc(func(ctx context.Context) error {
			return framework.RunWithContextCloser(ctx, srv, func() error {
				return srv.Serve(wsLn)
			})
		})))
	}
	if port != nil {
		glog.Infof("sim: memlink on %s", s.SerialPort)
		runner.Go(framework.NamedRun("memlink-serial", framework.RunFunc(func(ctx context.Context) error {
			defer port.Close()
			return server.Serve(ctx, port)
		})))
	}
	return runner.Wait()
}
