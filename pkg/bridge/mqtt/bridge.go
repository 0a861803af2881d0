package mqtt

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge"
	"github.com/robotalks/corpc/pkg/framework"
)

// Info is published retained on <id>/meta while a bridge is online.
type Info struct {
	ID       string `json:"id"`
	Host     string `json:"host,omitempty"`
	Link     string `json:"link,omitempty"`
	Command  uint32 `json:"command"`
	Response uint32 `json:"response"`
	Capacity int    `json:"capacity"`
	Slots    int    `json:"slots"`
}

// Bridge serves a bridge.Server on MQTT topics.
type Bridge struct {
	Queue  *Queue
	Info   Info
	Server *bridge.Server

	meta []byte
}

// NewBridge creates a Bridge. The meta topic is cleared by the broker if the
// connection drops.
func NewBridge(brokerURL string, info Info, server *bridge.Server) (*Bridge, error) {
	meta, err := json.Marshal(&info)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+info.ID+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("corpc:" + info.ID)
	}
	b := &Bridge{
		Queue:  NewQueue(opts, topicPrefix),
		Info:   info,
		Server: server,
		meta:   meta,
	}
	b.Queue.OnConnect = func(*Queue) { b.publishMeta(b.meta) }
	return b, nil
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt-bridge:" + b.Info.ID
}

// AddToLoop implements framework.LoopAdder.
func (b *Bridge) AddToLoop(l *framework.Loop) {
	l.AddRunnable(b)
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Queue.Connect(ctx); err != nil {
		return err
	}
	defer b.Queue.Close()
	defer b.publishMeta(nil)
	return b.Serve(ctx)
}

// Serve handles calls on an already connected Queue until ctx is done.
func (b *Bridge) Serve(ctx context.Context) error {
	rw := NewPacketReadWriter(b.Queue).ForBridge(b.Info.ID)
	if err := rw.Subscribe(ctx); err != nil {
		return err
	}
	glog.Infof("mqtt: bridge %s serving on %s%s", b.Info.ID, b.Queue.TopicPrefix, rw.SubTopic)
	return framework.RunWithContextCloser(ctx, rw, func() error {
		return b.Server.Serve(ctx, rw)
	})
}

func (b *Bridge) publishMeta(meta []byte) {
	token := b.Queue.PubWith(b.Info.ID+TopicMeta, meta, 1, true)
	token.Wait()
	if err := token.Error(); err != nil {
		glog.Warningf("mqtt: publish meta: %v", err)
	}
}
