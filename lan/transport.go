package lan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tillsync/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
)

// Transport is the unified broker client (MQTT or Kafka) carrying LAN
// traffic. MQTT is the usual choice for a store floor; Kafka fits sites
// that already run one for back-office feeds.
type Transport struct {
	mu       sync.RWMutex
	cfg      *config.LANConfig
	nodeID   string
	backend  string
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	kafkaRs  []*kafkago.Reader
}

// NewTransport creates a broker client based on config.
func NewTransport(cfg *config.LANConfig, nodeID string) *Transport {
	return &Transport{
		cfg:     cfg,
		nodeID:  nodeID,
		backend: cfg.Backend,
	}
}

// Connect establishes the broker connection.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.backend {
	case "mqtt":
		return t.connectMQTT()
	case "kafka":
		return t.connectKafka()
	default:
		return fmt.Errorf("unknown lan backend: %s", t.backend)
	}
}

func (t *Transport) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", t.cfg.MQTT.Broker, t.cfg.MQTT.Port)
	clientID := t.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = t.nodeID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	t.mqttConn = client
	return nil
}

func (t *Transport) connectKafka() error {
	t.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(t.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

// Publish sends a message to a topic. QoS 1 on MQTT; single ack on Kafka.
func (t *Transport) Publish(topic string, payload []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.backend {
	case "mqtt":
		if t.mqttConn == nil || !t.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := t.mqttConn.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case "kafka":
		if t.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		return t.kafkaW.WriteMessages(context.Background(), kafkago.Message{
			Topic: topic,
			Value: payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", t.backend)
	}
}

// PublishMessage encodes and publishes a wire message.
func (t *Transport) PublishMessage(topic string, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return t.Publish(topic, data)
}

// Subscribe registers a handler for messages on a topic.
func (t *Transport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.backend {
	case "mqtt":
		if t.mqttConn == nil {
			return fmt.Errorf("mqtt not connected")
		}
		token := t.mqttConn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		token.Wait()
		return token.Error()
	case "kafka":
		groupID := t.cfg.Kafka.GroupID
		if groupID == "" {
			groupID = t.nodeID
		}
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: t.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: groupID + "." + topic,
		})
		t.kafkaRs = append(t.kafkaRs, r)
		go func() {
			for {
				msg, err := r.ReadMessage(context.Background())
				if err != nil {
					log.Printf("kafka read %s: %v", topic, err)
					return
				}
				handler(msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", t.backend)
	}
}

// IsConnected returns whether the broker link is up.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.backend {
	case "mqtt":
		return t.mqttConn != nil && t.mqttConn.IsConnected()
	case "kafka":
		return t.kafkaW != nil
	default:
		return false
	}
}

// Close shuts down the broker connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mqttConn != nil {
		t.mqttConn.Disconnect(1000)
		t.mqttConn = nil
	}
	if t.kafkaW != nil {
		t.kafkaW.Close()
		t.kafkaW = nil
	}
	for _, r := range t.kafkaRs {
		r.Close()
	}
	t.kafkaRs = nil
}
