// Package fanout feeds each tick's pump snapshots to the secondary
// sinks: the embedded MQTT broker and the WebSocket hub. Publication
// failures never propagate back to the simulation kernel.
package fanout

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"
)

// publishQueueSize bounds the broker publish queue. The producer never
// blocks: overflow drops the newest message and counts it.
const publishQueueSize = 256

type brokerMessage struct {
	topic   string
	payload []byte
}

// Broker embeds an MQTT broker accepting anonymous TCP connections and
// publishes simulation telemetry onto it at QoS 1 through a bounded
// queue.
type Broker struct {
	addr   string
	logger *logrus.Logger

	server *mqtt.Server
	queue  chan brokerMessage

	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewBroker creates a broker bound to the given TCP address.
func NewBroker(addr string, logger *logrus.Logger) *Broker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broker{
		addr:   addr,
		logger: logger,
		queue:  make(chan brokerMessage, publishQueueSize),
		done:   make(chan struct{}),
	}
}

// Start brings up the listener and the publish worker.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("failed to configure broker auth: %w", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "ipsim-tcp", Address: b.addr})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to add broker listener: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			b.logger.WithError(err).Warn("MQTT broker stopped serving")
		}
	}()

	b.server = server
	b.running = true
	go b.worker()

	b.logger.WithField("addr", b.addr).Info("MQTT broker started")
	return nil
}

// Close stops the worker and shuts the broker down.
func (b *Broker) Close() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.done)
	server := b.server
	b.mu.Unlock()

	if server != nil {
		_ = server.Close()
	}
	b.logger.Info("MQTT broker stopped")
}

// Publish marshals the payload and enqueues it for publication. A full
// queue drops the message and increments the dropped counter.
func (b *Broker) Publish(topic string, payload interface{}) {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.WithError(err).WithField("topic", topic).Warn("Failed to marshal broker payload")
		return
	}

	select {
	case b.queue <- brokerMessage{topic: topic, payload: data}:
	default:
		dropped := b.dropped.Add(1)
		b.logger.WithFields(logrus.Fields{
			"topic":   topic,
			"dropped": dropped,
		}).Warn("Broker publish queue full, dropping message")
	}
}

// Dropped returns the monotonic count of messages dropped on overflow.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

func (b *Broker) worker() {
	for {
		select {
		case <-b.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case msg := <-b.queue:
					b.publish(msg)
				default:
					return
				}
			}
		case msg := <-b.queue:
			b.publish(msg)
		}
	}
}

func (b *Broker) publish(msg brokerMessage) {
	if err := b.server.Publish(msg.topic, msg.payload, false, 1); err != nil {
		b.logger.WithError(err).WithField("topic", msg.topic).Warn("Broker publish failed")
	}
}
