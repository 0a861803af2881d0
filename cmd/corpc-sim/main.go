package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/metrics"
	"github.com/robotalks/corpc/pkg/sim"
)

var (
	listenAddr   = ":3300"
	wsListenAddr = ":3301"
	serialPort   = ""
	metricsAddr  = ""
)

func init() {
	sim.SetupFlags()
	flag.StringVar(&listenAddr, "listen", listenAddr, "Serve memlink on TCP address, empty to disable.")
	flag.StringVar(&wsListenAddr, "ws-listen", wsListenAddr, "Serve memlink over websocket on address, empty to disable.")
	flag.StringVar(&serialPort, "serial", serialPort, "Serve memlink on serial port URL like serial:///dev/ttyUSB0?baud=115200.")
	flag.StringVar(&metricsAddr, "metrics", metricsAddr, "Serve metrics on address, empty to disable.")
}

func main() {
	flag.Parse()

	target, err := sim.NewConfig().NewTarget(context.Background())
	if err != nil {
		glog.Exit(err)
	}
	loop := framework.NewLoop().Add(target)
	loop.AddRunnable(&sim.LinkServer{
		Memory:           target.RAM,
		Address:          listenAddr,
		WebsocketAddress: wsListenAddr,
		SerialPort:       serialPort,
	})
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		target.Dispatcher.Observer = metrics.New(reg)
		loop.AddRunnable(&metrics.Server{Address: metricsAddr, Gatherer: reg})
	}
	loop.RunOrFail()
}
