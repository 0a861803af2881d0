package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/bridge"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Connector finds and connects to bridges on a broker.
type Connector struct {
	DiscoverTimeout time.Duration

	options     *paho.ClientOptions
	topicPrefix string
	newQueue    func() *Queue
}

// NewConnector creates a Connector.
func NewConnector(brokerURL string) (*Connector, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	c := &Connector{
		DiscoverTimeout: DefaultDiscoverTimeout,
		options:         opts,
		topicPrefix:     topicPrefix,
	}
	c.newQueue = func() *Queue { return NewQueue(c.options, c.topicPrefix) }
	return c, nil
}

// Discover lists the bridges announcing themselves.
func (c *Connector) Discover(ctx context.Context) ([]Info, error) {
	q := c.newQueue()
	if err := q.Connect(ctx); err != nil {
		return nil, err
	}
	defer q.Close()
	return Discover(ctx, q, c.DiscoverTimeout)
}

// Discover collects retained meta messages on a connected Queue for dur.
func Discover(ctx context.Context, q *Queue, dur time.Duration) ([]Info, error) {
	if dur <= 0 {
		dur = DefaultDiscoverTimeout
	}
	infoCh := make(chan Info, 16)
	sub := q.Sub("+"+TopicMeta, func(topic string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		var info Info
		if err := json.Unmarshal(payload, &info); err != nil {
			glog.Warningf("mqtt: bad meta on %s: %v", topic, err)
			return
		}
		if info.ID == "" {
			info.ID = strings.TrimSuffix(topic, TopicMeta)
		}
		select {
		case infoCh <- info:
		case <-time.After(time.Second):
		}
	})
	defer sub.Close()

	var res []Info
	timeout := time.NewTimer(dur)
	defer timeout.Stop()
	for {
		select {
		case info := <-infoCh:
			res = append(res, info)
		case <-timeout.C:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// Conn is a bridge.Conn owning its Queue.
type Conn struct {
	*bridge.Conn
	Queue *Queue
}

// Connect connects to the bridge with the id.
func (c *Connector) Connect(ctx context.Context, id string) (*Conn, error) {
	q := c.newQueue()
	if err := q.Connect(ctx); err != nil {
		return nil, err
	}
	conn, err := Dial(ctx, q, id)
	if err != nil {
		q.Close()
		return nil, err
	}
	return &Conn{Conn: conn, Queue: q}, nil
}

// Dial creates a bridge.Conn on a connected Queue.
func Dial(ctx context.Context, q *Queue, id string) (*bridge.Conn, error) {
	rw := NewPacketReadWriter(q).ForCaller(id)
	if err := rw.Subscribe(ctx); err != nil {
		return nil, err
	}
	return bridge.NewConn(rw), nil
}

// Close closes the bridge.Conn and disconnects.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	c.Queue.Close()
	return err
}
