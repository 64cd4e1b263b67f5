// Package sweeper completes expired challenges in the background and,
// when enabled, starts open challenges whose start date has arrived.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultInterval = time.Minute

// Target is implemented by services.ChallengeService.
type Target interface {
	CompleteExpired(ctx context.Context, now time.Time) (int, error)
	StartDue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically drives time-based lifecycle transitions.
type Sweeper struct {
	target    Target
	interval  time.Duration
	autoStart bool
	now       func() time.Time
	logger    *slog.Logger
}

// New constructs a Sweeper. A non-positive interval falls back to one
// minute.
func New(target Target, interval time.Duration, autoStart bool, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		target:    target,
		interval:  interval,
		autoStart: autoStart,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("component", "sweeper"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep failures are logged; Run only returns when ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Result counts the transitions made by one sweep.
type Result struct {
	Completed int
	Started   int
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
		err  error
	)
	now := s.now()

	if s.autoStart {
		res.Started, err = s.target.StartDue(ctx, now)
		if err != nil {
			errs = append(errs, err)
		}
	}
	res.Completed, err = s.target.CompleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}

	if res.Completed > 0 || res.Started > 0 {
		s.logger.Info("sweep finished", "completed", res.Completed, "started", res.Started)
	}
	return res, errors.Join(errs...)
}
