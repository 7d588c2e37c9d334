// Package mqtt mirrors node status records to an MQTT broker so that
// dashboards and other processes can follow a run.
//
// Each update is published as retained JSON on <prefix>/<nodeID>/status.
// A cleared node gets an empty retained payload, which removes the retained
// message from the broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

const (
	defaultPrefix         = "canvasflow"
	defaultPublishTimeout = 5 * time.Second
)

// Publisher is the subset of paho.Client the observer needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Options configures an Observer.
type Options struct {
	// Prefix is the topic root. Defaults to "canvasflow".
	Prefix string
	QoS    byte
	// PublishTimeout bounds the wait for each publish acknowledgement.
	PublishTimeout time.Duration
	Logger         *slog.Logger
	// OnUpdate, if set, is called for every status update before it is
	// published.
	OnUpdate func(workflow.StatusUpdate)
}

// Observer is a workflow.StatusObserver that publishes every status change.
// It keeps the last published snapshot in memory to answer reads.
type Observer struct {
	*workflow.MemoryObserver

	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	// pubMu keeps publishes for one observer in store order.
	pubMu sync.Mutex
}

// New creates an Observer publishing through pub.
func New(pub Publisher, opts Options) *Observer {
	o := &Observer{
		MemoryObserver: workflow.NewMemoryObserver(opts.OnUpdate),
		pub:            pub,
		prefix:         opts.Prefix,
		qos:            opts.QoS,
		timeout:        opts.PublishTimeout,
		logger:         opts.Logger,
	}
	if o.prefix == "" {
		o.prefix = defaultPrefix
	}
	if o.timeout <= 0 {
		o.timeout = defaultPublishTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Topic returns the status topic for a node.
func (o *Observer) Topic(nodeID string) string {
	return fmt.Sprintf("%s/%s/status", o.prefix, nodeID)
}

// message is the JSON payload published for a node.
type message struct {
	NodeID string `json:"node_id"`
	workflow.StatusRecord
}

func (o *Observer) SetStatus(updates []workflow.StatusUpdate) {
	o.MemoryObserver.SetStatus(updates)
	for _, u := range updates {
		o.publishRecord(u.NodeID)
	}
}

func (o *Observer) UpdateMetadata(id string, patch map[string]any) {
	o.MemoryObserver.UpdateMetadata(id, patch)
	o.publishRecord(id)
}

func (o *Observer) Clear(id string) {
	o.MemoryObserver.Clear(id)
	o.publish(id, []byte{})
}

func (o *Observer) ClearAll() {
	ids := o.MemoryObserver.GetAll()
	o.MemoryObserver.ClearAll()
	for id := range ids {
		o.publish(id, []byte{})
	}
}

func (o *Observer) publishRecord(id string) {
	rec, ok := o.MemoryObserver.GetStatus(id)
	if !ok {
		return
	}
	payload, err := json.Marshal(message{NodeID: id, StatusRecord: rec})
	if err != nil {
		o.logger.Warn("mqtt: encode status", "node", id, "error", err)
		return
	}
	o.publish(id, payload)
}

func (o *Observer) publish(id string, payload []byte) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	topic := o.Topic(id)
	token := o.pub.Publish(topic, o.qos, true, payload)
	if !token.WaitTimeout(o.timeout) {
		o.logger.Warn("mqtt: publish timed out", "topic", topic, "timeout", o.timeout)
		return
	}
	if err := token.Error(); err != nil {
		o.logger.Warn("mqtt: publish failed", "topic", topic, "error", err)
	}
}
