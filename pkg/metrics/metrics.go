// Package metrics exports call and dispatch statistics to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/rpc"
)

// Metrics implements rpc.CallObserver and rpc.DispatchObserver.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	staleFrames  *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	dispatchTime *prometheus.HistogramVec
}

var buckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "corpc",
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Total number of calls by opcode and result",
			},
			[]string{"opcode", "result"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "corpc",
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Call round trip in seconds",
				Buckets:   buckets,
			},
			[]string{"opcode"},
		),
		staleFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "corpc",
				Subsystem: "client",
				Name:      "stale_frames_total",
				Help:      "Responses discarded for not matching the call in flight",
			},
			[]string{"kind"},
		),
		dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "corpc",
				Subsystem: "target",
				Name:      "dispatch_total",
				Help:      "Total number of dispatched commands by opcode and status",
			},
			[]string{"opcode", "status"},
		),
		dispatchTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "corpc",
				Subsystem: "target",
				Name:      "dispatch_duration_seconds",
				Help:      "Handler run time in seconds",
				Buckets:   buckets,
			},
			[]string{"opcode"},
		),
	}
}

func opcodeLabel(opcode uint32) string {
	return fmt.Sprintf("%#x", opcode)
}

// CallResult classifies a call outcome for the result label.
func CallResult(status rpc.Status, err error) string {
	switch {
	case err == rpc.ErrTimeout:
		return "timeout"
	case err == context.Canceled || err == context.DeadlineExceeded:
		return "canceled"
	case err != nil:
		return "error"
	}
	return status.String()
}

// CallDone implements rpc.CallObserver.
func (m *Metrics) CallDone(opcode uint32, status rpc.Status, err error, elapsed time.Duration) {
	op := opcodeLabel(opcode)
	m.calls.WithLabelValues(op, CallResult(status, err)).Inc()
	if err == nil {
		m.callDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// StaleFrame implements rpc.CallObserver.
func (m *Metrics) StaleFrame(seq uint32, abandoned bool) {
	kind := "unknown"
	if abandoned {
		kind = "abandoned"
	}
	m.staleFrames.WithLabelValues(kind).Inc()
}

// Dispatched implements rpc.DispatchObserver.
func (m *Metrics) Dispatched(opcode uint32, status rpc.Status, elapsed time.Duration) {
	op := opcodeLabel(opcode)
	m.dispatched.WithLabelValues(op, status.String()).Inc()
	m.dispatchTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Server serves /metrics.
type Server struct {
	Address  string
	Gatherer prometheus.Gatherer
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "metrics"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	glog.Infof("metrics: serving on %s", ln.Addr())
	return framework.RunWithContextCloser(ctx, srv, func() error {
		return srv.Serve(ln)
	})
}
