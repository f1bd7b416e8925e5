package queue

import (
	"fmt"
	"strings"

	"regci/internal/config"
)

const (
	SinkRedis = "redis"
	SinkNats  = "nats"
)

// FromConfig connects to the broker named by relay.sink
func FromConfig(conf *config.RCConfig) (Client, string, error) {
	sink := strings.ToLower(strings.TrimSpace(conf.Relay.Sink))
	switch sink {
	case SinkRedis, "":
		client, err := NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB)
		if err != nil {
			return nil, SinkRedis, fmt.Errorf("could not connect to redis at %s: %w", conf.Queue.Host, err)
		}
		return client, SinkRedis, nil
	case SinkNats:
		client, err := NewNatsClient(conf.Nats.URL, conf.Nats.Stream, conf.Nats.Subject)
		if err != nil {
			return nil, SinkNats, fmt.Errorf("could not connect to nats at %s: %w", conf.Nats.URL, err)
		}
		return client, SinkNats, nil
	default:
		return nil, sink, fmt.Errorf("unknown relay sink %q, expected %q or %q", conf.Relay.Sink, SinkRedis, SinkNats)
	}
}
