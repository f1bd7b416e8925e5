package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
	"regci/internal/models"
)

// RunCanceller is the part of ci.Service the reaper needs
type RunCanceller interface {
	StaleRuns(ctx context.Context, createdBefore time.Time) ([]models.QueuedRun, error)
	Remove(ctx context.Context, runID int64, isLocal bool, messageTemplate string) error
}

// Reaper periodically removes runs that have been queued for longer than the maximum age.
// The trigger source is told through the usual outbox message.
type Reaper struct {
	svc             RunCanceller
	cron            *cron.Cron
	schedule        string
	maxAge          time.Duration
	messageTemplate string
	now             func() time.Time

	mu         sync.Mutex
	isRunning  bool
	context    context.Context
	cancelFunc context.CancelFunc
}

func NewReaper(svc RunCanceller, schedule string, maxAge time.Duration, messageTemplate string) (*Reaper, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	if maxAge <= 0 {
		return nil, errors.New("reaper max age must be positive")
	}

	return &Reaper{
		svc:             svc,
		cron:            cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		schedule:        schedule,
		maxAge:          maxAge,
		messageTemplate: messageTemplate,
		now:             time.Now,
	}, nil
}

// Start registers the sweep with cron and returns straightaway
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}

	r.context, r.cancelFunc = context.WithCancel(ctx)
	_, err := r.cron.AddFunc(r.schedule, func() {
		if r.context.Err() != nil {
			return
		}
		if _, err := r.Reap(r.context); err != nil {
			log.Error().Err(err).Msg("Reaper sweep finished with errors")
		}
	})
	if err != nil {
		r.cancelFunc()
		return err
	}

	r.cron.Start()
	r.isRunning = true
	log.Info().
		Str("schedule", r.schedule).
		Dur("max_age", r.maxAge).
		Msg("Reaper started")
	return nil
}

// Stop stops the cron scheduler and waits for a running sweep to return
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return
	}

	r.cancelFunc()
	<-r.cron.Stop().Done()
	r.isRunning = false
}

// Reap removes every queued run older than the maximum age and returns how many were removed.
// Runs finished between listing and removal are skipped.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	stale, err := r.svc.StaleRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("could not list stale runs: %w", err)
	}

	removed := 0
	var errs []error
	for _, run := range stale {
		err := r.svc.Remove(ctx, run.RunID, run.Pool == models.PoolLocal, r.messageTemplate)
		switch {
		case err == nil:
			removed++
			log.Info().
				Int64("run_id", run.RunID).
				Str("pool", string(run.Pool)).
				Str("repository", run.Repository).
				Time("queued_at", run.QueuedAt).
				Msg("Removed stale run")
		case errors.Is(err, ci.ErrNotFound), errors.Is(err, ci.ErrWrongPool):
			log.Debug().Err(err).Int64("run_id", run.RunID).Msg("Stale run changed before removal")
		default:
			errs = append(errs, fmt.Errorf("run %d: %w", run.RunID, err))
		}
	}

	return removed, errors.Join(errs...)
}
