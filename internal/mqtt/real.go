package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pump-controller/internal/metrics"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 256
)

// RealPublisher publishes to an actual MQTT broker. While the connection is
// down, messages are buffered and replayed in order after reconnecting.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buf       *replayBuffer
	onCommand func(Command)
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		buf: newReplayBuffer(bufferCapacity),
	}

	// The broker announces an unclean disconnect on our behalf.
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
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, false).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// handleConnect runs on every (re)connect: it replays messages buffered while
// offline and re-establishes the command subscription, which does not survive
// a clean-session reconnect.
func (p *RealPublisher) handleConnect(client paho.Client) {
	p.mu.Lock()
	msgs, dropped := p.buf.takeAll()
	handler := p.onCommand
	p.mu.Unlock()

	if dropped > 0 {
		log.Printf("mqtt: %d messages lost to buffer overflow while disconnected", dropped)
	}
	if len(msgs) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(msgs))
		for _, m := range msgs {
			token := client.Publish(m.topic, m.qos, m.retained, m.payload)
			token.WaitTimeout(publishTimeout)
		}
	}

	if handler != nil {
		if err := p.subscribe(handler); err != nil {
			log.Printf("mqtt: resubscribe failed: %v", err)
		}
	}
}

// publish sends one message, or buffers it when the connection is down.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.buf.add(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		metrics.MQTTBuffered()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

// PublishSample sends a flow sample to the MQTT broker.
func (p *RealPublisher) PublishSample(event SampleEvent) error {
	payload, err := FormatSamplePayload(event)
	if err != nil {
		return fmt.Errorf("format sample payload: %w", err)
	}

	// QoS 0 (at-most-once): the next sample supersedes a lost one
	return p.publish(TopicSample, 0, false, payload)
}

// PublishFault sends a fault transition event to the MQTT broker.
func (p *RealPublisher) PublishFault(event FaultEvent) error {
	payload, err := FormatFaultPayload(event)
	if err != nil {
		return fmt.Errorf("format fault payload: %w", err)
	}

	// QoS 1 and retained so a subscriber joining late sees the current fault state
	return p.publish(TopicFault, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// SubscribeCommands registers a handler for pump commands arriving on
// TopicCommand. Malformed payloads are logged and dropped.
func (p *RealPublisher) SubscribeCommands(handler func(Command)) error {
	p.mu.Lock()
	p.onCommand = handler
	p.mu.Unlock()
	return p.subscribe(handler)
}

func (p *RealPublisher) subscribe(handler func(Command)) error {
	token := p.client.Subscribe(TopicCommand, 1, func(_ paho.Client, msg paho.Message) {
		cmd, err := ParseCommand(msg.Payload())
		if err != nil {
			log.Printf("mqtt: ignoring bad command: %v", err)
			return
		}
		handler(cmd)
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCommand, err)
	}

	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Buffered reports how many messages are waiting for the connection to return.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.size()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
