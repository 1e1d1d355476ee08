// Package reaper periodically fails requests that were abandoned mid-flight
// and hands their quota back.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Sweeper fails stale in-flight requests and returns their ids.
type Sweeper interface {
	ReapStale(ctx context.Context) ([]string, error)
}

const jobName = "reap-stale-requests"

// Reaper runs a Sweeper on a fixed interval.
type Reaper struct {
	sweeper   Sweeper
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	scheduler gocron.Scheduler
}

// New builds a Reaper. The scheduler is not started until Start.
func New(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) (*Reaper, error) {
	if sweeper == nil {
		return nil, errors.New("reaper: nil sweeper")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("reaper: interval must be positive, got %s", interval)
	}
	logger = logger.With().Str("component", "reaper").Logger()
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logAdapter{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("reaper: create scheduler: %w", err)
	}
	return &Reaper{
		sweeper:   sweeper,
		interval:  interval,
		timeout:   interval,
		logger:    logger,
		scheduler: s,
	}, nil
}

// Start schedules the sweep and begins running it. The first sweep runs
// immediately. Sweeps never overlap.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.Sweep(ctx) }),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("reaper: schedule sweep: %w", err)
	}
	r.scheduler.Start()
	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")
	return nil
}

// Sweep runs one pass and reports how many requests were reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	ids, err := r.sweeper.ReapStale(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("sweep failed")
		return 0
	}
	if len(ids) > 0 {
		r.logger.Info().Int("reaped", len(ids)).Dur("took", time.Since(start)).Msg("sweep finished")
	}
	return len(ids)
}

// Stop waits for a running sweep and shuts the scheduler down.
func (r *Reaper) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("reaper: shutdown: %w", err)
	}
	r.logger.Info().Msg("reaper stopped")
	return nil
}

// logAdapter routes gocron's key/value logs into zerolog.
type logAdapter struct {
	logger zerolog.Logger
}

func (l logAdapter) Debug(msg string, args ...any) { l.logger.Debug().Fields(args).Msg(msg) }
func (l logAdapter) Info(msg string, args ...any)  { l.logger.Info().Fields(args).Msg(msg) }
func (l logAdapter) Warn(msg string, args ...any)  { l.logger.Warn().Fields(args).Msg(msg) }
func (l logAdapter) Error(msg string, args ...any) { l.logger.Error().Fields(args).Msg(msg) }
