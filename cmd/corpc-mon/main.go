package main

import (
	"context"
	"encoding/hex"
	"flag"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge/mqtt"
	"github.com/robotalks/corpc/pkg/bridge/msgs"
	"github.com/robotalks/corpc/pkg/env"
	"github.com/robotalks/corpc/pkg/framework"
	"github.com/robotalks/corpc/pkg/rpc"
)

func init() {
	env.SetupFlags()
}

func logMessage(topic string, payload []byte) {
	if strings.HasSuffix(topic, mqtt.TopicMeta) {
		if len(payload) == 0 {
			glog.Infof("%s: offline", topic)
			return
		}
		glog.Infof("%s: %s", topic, string(payload))
		return
	}
	msg, err := msgs.Decode(payload)
	if err != nil {
		glog.Warningf("%s: bad message: %v", topic, err)
		return
	}
	switch m := msg.(type) {
	case *msgs.CallRequest:
		glog.Infof("%s: call id=%d opcode=%#x timeout=%dms payload=%s",
			topic, m.Id, m.Opcode, m.TimeoutMs, hex.EncodeToString(m.Payload))
	case *msgs.CallReply:
		if m.Error != "" {
			glog.Infof("%s: reply id=%d error=%q", topic, m.Id, m.Error)
			return
		}
		glog.Infof("%s: reply id=%d status=%s payload=%s",
			topic, m.Id, rpc.Status(m.Status), hex.EncodeToString(m.Payload))
	default:
		glog.Infof("%s: %T %s", topic, msg, msg.String())
	}
}

func main() {
	flag.Parse()
	conf := env.MustDefault()

	q, err := mqtt.NewQueueFromURL(conf.MQTTURL)
	if err != nil {
		glog.Exit(err)
	}
	q.Sub("#", logMessage)

	err = framework.NewRunner().HandleSignals().Go(framework.RunFunc(func(ctx context.Context) error {
		if err := q.Connect(ctx); err != nil {
			return err
		}
		defer q.Close()
		<-ctx.Done()
		return ctx.Err()
	})).Wait()
	if err != nil {
		glog.Exit(err)
	}
}
