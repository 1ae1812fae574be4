package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/model"
)

// Publisher pushes one message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

// QueueListener publishes each event to a broker topic. Delivery is at most
// once: a failed publish drops the event.
type QueueListener struct {
	broker    config.QueueBroker
	topic     string
	publisher Publisher
}

func NewQueueListener(broker config.QueueBroker, topic string, p Publisher) *QueueListener {
	return &QueueListener{broker: broker, topic: topic, publisher: p}
}

func (q *QueueListener) Name() string { return "queue_push/" + string(q.broker) }

func (q *QueueListener) Deliver(ctx context.Context, ev model.DetectionEvent) error {
	payload, err := marshalEvent(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if err := q.publisher.Publish(ctx, q.topic, []byte(ev.SourceID), payload); err != nil {
		return errors.Wrapf(err, "publish to %s", q.topic)
	}
	return nil
}

func (q *QueueListener) Close() error {
	return q.publisher.Close()
}

// KafkaPublisher writes synchronously to a Kafka cluster.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(servers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(servers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// MQTTPublisher publishes over a paho client that reconnects on its own.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTPublisher connects to the broker, failing with ErrUnavailable when
// the first connection does not come up in time.
func NewMQTTPublisher(s config.QueueSettings) (*MQTTPublisher, error) {
	if len(s.Servers) == 0 {
		return nil, errors.Wrap(ErrUnavailable, "mqtt: no broker configured")
	}

	opts := mqtt.NewClientOptions()
	for _, server := range s.Servers {
		if !strings.Contains(server, "://") {
			server = fmt.Sprintf("tcp://%s", server)
		}
		opts.AddBroker(server)
	}
	opts.SetClientID(s.Client)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.Wrap(ErrUnavailable, "mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "mqtt: %v", err)
	}
	return &MQTTPublisher{client: client, qos: s.QoS}, nil
}

func (m *MQTTPublisher) Publish(ctx context.Context, topic string, _ []byte, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	token := m.client.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("publish timeout")
	}
}

func (m *MQTTPublisher) Close() error {
	m.client.Disconnect(250)
	return nil
}
