// Package relay moves outbox messages onto the notification broker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
	"regci/internal/metrics"
	"regci/internal/models"
	"regci/internal/queue"
)

// Outbox is the part of ci.Service the relay drains
type Outbox interface {
	DrainOutbox(ctx context.Context, limit int, deliver ci.DeliverFunc) (int, error)
}

type Options struct {
	Sink         string
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	// Backoff is multiplied by the attempt number between publish retries
	Backoff time.Duration
}

type Relay struct {
	ID      string
	outbox  Outbox
	queue   queue.Client
	options Options
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(outbox Outbox, client queue.Client, options Options) *Relay {
	if options.PollInterval <= 0 {
		options.PollInterval = time.Second
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 50
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = 1
	}
	if options.Backoff <= 0 {
		options.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		ID:      uuid.New().String(),
		outbox:  outbox,
		queue:   client,
		options: options,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start is a blocking function. Every poll interval it drains the outbox until it is
// empty or a publish fails, then waits for the next tick. It returns once Stop is called.
func (r *Relay) Start() error {
	log.Info().
		Str("relay_id", r.ID).
		Str("sink", r.options.Sink).
		Dur("interval", r.options.PollInterval).
		Msg("Relay started")

	ticker := time.NewTicker(r.options.PollInterval)
	defer ticker.Stop()

	for {
		r.drain()

		select {
		case <-r.ctx.Done():
			log.Info().Str("relay_id", r.ID).Msg("Relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain() {
	for r.ctx.Err() == nil {
		n, err := r.RelayOnce(r.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("relay_id", r.ID).Msg("Could not relay outbox batch")
			}
			return
		}
		if n < r.options.BatchSize {
			return
		}
	}
}

// RelayOnce publishes a single batch and returns how many messages reached the broker
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	n, err := r.outbox.DrainOutbox(ctx, r.options.BatchSize, r.publish)
	if n > 0 {
		metrics.OutboxRelayed.WithLabelValues(r.options.Sink).Add(float64(n))
		log.Debug().
			Str("relay_id", r.ID).
			Int("count", n).
			Msg("Relayed outbox messages")
	}
	return n, err
}

// publish stops at the first message that cannot be published so delivery stays in order
func (r *Relay) publish(ctx context.Context, messages []models.OutboxMessage) (int, error) {
	for i, m := range messages {
		msg := queue.NotificationMessage{
			MessageID: m.ID,
			RunID:     m.RunID,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}

		if _, err := tryRun(ctx, r.options.MaxRetries, r.options.Backoff, func() error {
			return r.queue.Publish(ctx, msg)
		}); err != nil {
			log.Warn().
				Err(err).
				Int64("message_id", m.ID).
				Int64("run_id", m.RunID).
				Msg("Could not publish notification")
			return i, err
		}
	}
	return len(messages), nil
}

// tryRun attempts to run a function maxRetries time. If any time the function f succeeds,
// it will return with no error straightaway. Otherwise, it will return the error
func tryRun(ctx context.Context, maxRetries int, backoff time.Duration, f func() error) (numAttempts int, lastErr error) {
	for attempts := 1; attempts <= maxRetries; attempts++ {
		err := f()
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		if attempts == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(time.Duration(attempts) * backoff):
		}
	}

	return maxRetries, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (r *Relay) Stop() {
	r.cancel()
}
