package config

import "time"

// ListenerKind identifies an alert sink.
type ListenerKind int

const (
	ListenerLog ListenerKind = iota
	ListenerVoice
	ListenerHTTPCallback
	ListenerQueuePush
)

func (k ListenerKind) String() string {
	switch k {
	case ListenerLog:
		return "log"
	case ListenerVoice:
		return "voice"
	case ListenerHTTPCallback:
		return "http_callback"
	case ListenerQueuePush:
		return "queue_push"
	default:
		return "unknown"
	}
}

// QueueBroker selects the message broker behind a queue push listener.
type QueueBroker string

const (
	BrokerKafka QueueBroker = "kafka"
	BrokerMQTT  QueueBroker = "mqtt"
)

// ListenerConfig describes one configured alert sink. Only the settings
// matching Kind are populated.
type ListenerConfig struct {
	Kind    ListenerKind
	Enabled bool

	Voice    VoiceSettings
	Callback CallbackSettings
	Queue    QueueSettings
}

type VoiceSettings struct {
	Rate    int
	Voice   string
	Command string
}

type CallbackSettings struct {
	Endpoint string
	Timeout  time.Duration
}

type QueueSettings struct {
	Broker  QueueBroker
	Servers []string
	Topic   string
	QoS     byte
	Client  string
}

// Listeners returns the alert sinks in registration order: log, voice,
// HTTP callback, then queue push (Kafka before MQTT). A sink is enabled only
// when both its event_handlers switch and its own section allow it.
func (c *Config) Listeners() []ListenerConfig {
	return []ListenerConfig{
		{
			Kind:    ListenerLog,
			Enabled: c.EventHandlers.Log,
		},
		{
			Kind:    ListenerVoice,
			Enabled: c.EventHandlers.TTS && c.TTS.Enabled,
			Voice:   VoiceSettings{Rate: c.TTS.Rate, Voice: c.TTS.Voice, Command: c.TTS.Command},
		},
		{
			Kind:     ListenerHTTPCallback,
			Enabled:  c.EventHandlers.API && c.API.Enabled,
			Callback: CallbackSettings{Endpoint: c.API.Endpoint, Timeout: c.API.Timeout},
		},
		{
			Kind:    ListenerQueuePush,
			Enabled: c.EventHandlers.Kafka && c.Kafka.Enabled,
			Queue:   QueueSettings{Broker: BrokerKafka, Servers: c.Kafka.BootstrapServers, Topic: c.Kafka.Topic},
		},
		{
			Kind:    ListenerQueuePush,
			Enabled: c.EventHandlers.MQTT && c.MQTT.Enabled,
			Queue: QueueSettings{
				Broker:  BrokerMQTT,
				Servers: []string{c.MQTT.Broker},
				Topic:   c.MQTT.Topic,
				QoS:     c.MQTT.QoS,
				Client:  c.MQTT.ClientID,
			},
		},
	}
}
