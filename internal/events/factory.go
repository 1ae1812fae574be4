package events

import (
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
)

// FromConfig builds the Bus once at startup. Disabled sinks are left out;
// sinks whose dependency is missing are logged and left out too, so nothing
// is probed again at dispatch time.
func FromConfig(listeners []config.ListenerConfig, log *logger.Logger) *Bus {
	var built []Listener
	for _, lc := range listeners {
		if !lc.Enabled {
			continue
		}
		l, err := build(lc, log)
		if err != nil {
			log.Warning("Skipping %s listener: %v", lc.Kind, err)
			continue
		}
		built = append(built, l)
	}

	bus := NewBus(log, built...)
	log.Info("Event bus ready with listeners %v", bus.Names())
	return bus
}

func build(lc config.ListenerConfig, log *logger.Logger) (Listener, error) {
	switch lc.Kind {
	case config.ListenerLog:
		return NewLogListener(log), nil
	case config.ListenerVoice:
		return NewVoiceListener(lc.Voice)
	case config.ListenerHTTPCallback:
		return NewCallbackListener(lc.Callback)
	case config.ListenerQueuePush:
		return buildQueue(lc.Queue)
	default:
		return nil, errors.Errorf("unknown listener kind %d", lc.Kind)
	}
}

func buildQueue(s config.QueueSettings) (Listener, error) {
	switch s.Broker {
	case config.BrokerKafka:
		if len(s.Servers) == 0 {
			return nil, errors.Wrap(ErrUnavailable, "kafka: no bootstrap servers")
		}
		return NewQueueListener(s.Broker, s.Topic, NewKafkaPublisher(s.Servers)), nil
	case config.BrokerMQTT:
		p, err := NewMQTTPublisher(s)
		if err != nil {
			return nil, err
		}
		return NewQueueListener(s.Broker, s.Topic, p), nil
	default:
		return nil, errors.Errorf("unknown broker %q", s.Broker)
	}
}
