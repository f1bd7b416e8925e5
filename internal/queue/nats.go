package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NatsClient implements Client on a NATS JetStream stream. Messages carry the outbox id
// as their JetStream message id, so a re-published message inside the stream's duplicate
// window is stored once.
type NatsClient struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	durable string
}

// NewNatsClient connects to url and makes sure a stream named stream captures subject
func NewNatsClient(url, stream, subject string, opts ...nats.Option) (*NatsClient, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if _, err := js.StreamInfo(stream); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{Name: stream, Subjects: []string{subject}})
		if err != nil {
			nc.Close()
			return nil, err
		}
		log.Info().Str("stream", stream).Str("subject", subject).Msg("Created notification stream")
	} else if err != nil {
		nc.Close()
		return nil, err
	}

	return &NatsClient{conn: nc, js: js, subject: subject, durable: "regci-notify"}, nil
}

func (n *NatsClient) Publish(ctx context.Context, message NotificationMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	_, err = n.js.Publish(n.subject, data,
		nats.Context(ctx),
		nats.MsgId(strconv.FormatInt(message.MessageID, 10)))
	return err
}

// Subscribe creates a durable consumer and blocks until ctx is done. A handler error naks
// the message so JetStream redelivers it.
func (n *NatsClient) Subscribe(ctx context.Context, handler func(NotificationMessage) error) error {
	sub, err := n.js.Subscribe(n.subject, func(msg *nats.Msg) {
		var message NotificationMessage
		if err := json.Unmarshal(msg.Data, &message); err != nil {
			log.Error().Err(err).Msg("Could not parse message into NotificationMessage")
			_ = msg.Term()
			return
		}

		if err := processMessage(handler, message); err != nil {
			log.Error().
				Err(err).
				Int64("run_id", message.RunID).
				Int64("message_id", message.MessageID).
				Msg("Error encountered when processing message")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(n.durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return err
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		log.Warn().Err(err).Msg("Could not drain notification subscription")
	}
	return ctx.Err()
}

// Close drains the connection, falling back to closing it outright
func (n *NatsClient) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
	return nil
}
