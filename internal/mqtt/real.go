package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/neuromod/internal/session"
)

// bufferCapacity bounds how many messages are held while offline.
const bufferCapacity = 256

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// conn is the subset of a broker connection RealPublisher needs.
type conn interface {
	IsConnectionOpen() bool
	publish(topic string, qos byte, retained bool, payload []byte) error
	disconnect()
}

type pahoConn struct {
	client paho.Client
}

func (c pahoConn) IsConnectionOpen() bool {
	return c.client.IsConnectionOpen()
}

func (c pahoConn) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

func (c pahoConn) disconnect() {
	c.client.Disconnect(1000) // 1 second timeout
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed in order on
// reconnect.
type RealPublisher struct {
	mu            sync.Mutex
	conn          conn
	buf           *ringBuffer
	now           func() time.Time
	everConnected bool
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is not reachable within the connect timeout the publisher is still
// returned: paho keeps retrying and messages are buffered until it connects.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		buf: newRingBuffer(bufferCapacity),
		now: time.Now,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	client := paho.NewClient(opts)
	p.conn = pahoConn{client: client}

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a session event to the MQTT broker.
func (p *RealPublisher) Publish(event session.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1: session lifecycle records should not be lost.
	if err := p.publish(Topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a daemon lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	if err := p.publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.conn.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.conn.disconnect()
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.conn.IsConnectionOpen() {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}
	return p.conn.publish(topic, qos, retained, payload)
}

// onConnect replays buffered messages and, on every connect after the
// first, announces the reconnection.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.buf.drainAll()
	if len(msgs) > 0 {
		log.Printf("mqtt: connected, replaying %d buffered messages", len(msgs))
	}
	for _, m := range msgs {
		if err := p.conn.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			log.Printf("mqtt: replay to %s failed: %v", m.topic, err)
		}
	}

	if !p.everConnected {
		p.everConnected = true
		return
	}

	payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
	if err != nil {
		log.Printf("mqtt: format reconnected payload: %v", err)
		return
	}
	if err := p.conn.publish(TopicSystem, 1, false, payload); err != nil {
		log.Printf("mqtt: publish reconnected: %v", err)
	}
}
