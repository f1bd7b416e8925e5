package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	NotificationQueueName = "regci:notifications"
	DeadLetterQueueName   = "regci:notifications:dead"
)

var ErrAlreadySubscribed = errors.New("client is already subscribed")

// RedisClient implements Client using a Redis list
type RedisClient struct {
	client     *redis.Client
	subscribed atomic.Bool
}

// NewRedisClient creates a new Redis queue client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisClient{client: client}, nil
}

// Publish appends a notification to the queue
func (r *RedisClient) Publish(ctx context.Context, message NotificationMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, NotificationQueueName, data).Err()
}

// Subscribe starts listening for messages and processes them with the handler. One client can
// only be subscribed once. Messages whose handler fails or panics go to the dead letter queue.
func (r *RedisClient) Subscribe(ctx context.Context, handler func(NotificationMessage) error) error {
	if !r.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}
	defer r.subscribed.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := r.getNewMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().
					Err(err).
					Msg("Error encountered when fetching message from queue")
				continue
			}
			if message == nil {
				continue
			}

			if err := processMessage(handler, *message); err != nil {
				log.Error().
					Err(err).
					Int64("run_id", message.RunID).
					Int64("message_id", message.MessageID).
					Msg("Error encountered when processing message")
				r.deadLetter(ctx, *message, err)
			}
		}
	}
}

func (r *RedisClient) getNewMessage(ctx context.Context) (*NotificationMessage, error) {
	result, err := r.client.BLPop(ctx, 1*time.Second, NotificationQueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No message available
			return nil, nil
		}
		return nil, fmt.Errorf("BLPOP from redis queue went bad. %w", err)
	}

	// Invalid message, this shouldn't usually happen
	if len(result) < 2 {
		return nil, nil
	}

	var message NotificationMessage
	if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
		return nil, fmt.Errorf("could not parse message into NotificationMessage. %w", err)
	}
	return &message, nil
}

type deadLetterEntry struct {
	Message   NotificationMessage `json:"message"`
	Error     string              `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
}

func (r *RedisClient) deadLetter(ctx context.Context, message NotificationMessage, cause error) {
	// the message is already popped, so it must land even if the subscription is ending
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(deadLetterEntry{Message: message, Error: cause.Error(), Timestamp: time.Now()})
	if err == nil {
		err = r.client.RPush(ctx, DeadLetterQueueName, data).Err()
	}
	if err != nil {
		log.Error().
			Err(err).
			Int64("message_id", message.MessageID).
			Msg("Could not move message to the dead letter queue")
	}
}

func processMessage(handler func(NotificationMessage) error, message NotificationMessage) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Int64("run_id", message.RunID).Msg("Handler panicked")

			err = fmt.Errorf("handler panicked: %v", rcv)
		}
	}()

	return handler(message)
}

// Close terminates the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
