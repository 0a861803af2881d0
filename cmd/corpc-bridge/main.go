package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robotalks/corpc/pkg/bridge"
	"github.com/robotalks/corpc/pkg/bridge/mqtt"
	"github.com/robotalks/corpc/pkg/env"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/link/websocket"
	"github.com/robotalks/corpc/pkg/metrics"
	"github.com/robotalks/corpc/pkg/rpc"
)

var wsListenAddr = ""

func init() {
	env.SetupFlags()
	flag.StringVar(&wsListenAddr, "ws-listen", wsListenAddr, "Also serve calls over websocket on address.")
}

func main() {
	flag.Parse()
	conf := env.MustDefault()
	if conf.ID == "" {
		conf.ID = env.MachineID()
	}

	var observer rpc.CallObserver
	reg := prometheus.NewRegistry()
	if conf.Metrics != "" {
		observer = metrics.New(reg)
	}

	ctx := context.Background()
	conn, err := conf.Connect(ctx, observer)
	if err != nil {
		glog.Exitf("connect %s: %v", conf.Link, err)
	}
	defer conn.Close()

	host, _ := os.Hostname()
	first := conn.Pool.Clients()[0]
	server := bridge.NewServer(conn)
	b, err := mqtt.NewBridge(conf.MQTTURL, mqtt.Info{
		ID:       conf.ID,
		Host:     host,
		Link:     conf.Link,
		Command:  uint32(conf.Command),
		Response: uint32(conf.Response),
		Capacity: first.Capacity(),
		Slots:    conn.Pool.Size(),
	}, server)
	if err != nil {
		glog.Exit(err)
	}

	loop := framework.NewLoop().Add(b)
	if conf.Metrics != "" {
		loop.AddRunnable(&metrics.Server{Address: conf.Metrics, Gatherer: reg})
	}
	if wsListenAddr != "" {
		loop.AddRunnable(framework.NamedRun("bridge-ws", framework.RunFunc(func(ctx context.Context) error {
			ln, err := net.Listen("tcp", wsListenAddr)
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/call", websocket.Handler(ctx, server.Serve))
			srv := &http.Server{Handler: mux}
			glog.Infof("bridge: serving on ws://%s/call", ln.Addr())
			return framework.RunWithContextCloser(ctx, srv, func() error {
				return srv.Serve(ln)
			})
		})))
	}
	loop.RunOrFail()
}
