package inspection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/logging"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultRetryDelay   = 60 * time.Second
	DefaultMaxAttempts  = 3
)

// Processor runs the analysis pipeline for a claimed inspection and persists
// its results, completing it on success.
type Processor interface {
	Process(ctx context.Context, insp *Inspection) error
}

type RunnerConfig struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

type Runner struct {
	repo      Repository
	processor Processor
	cfg       RunnerConfig
	logger    *slog.Logger
	now       func() time.Time
	running   atomic.Bool
	paused    atomic.Bool
	active    atomic.Int32
}

func NewRunner(repo Repository, processor Processor, cfg RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		repo:      repo,
		processor: processor,
		cfg:       cfg.withDefaults(),
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("inspection runner started", "poll_interval", r.cfg.PollInterval, "max_attempts", r.cfg.MaxAttempts)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("inspection runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if r.paused.Load() {
				continue
			}
			// Drain everything runnable before waiting for the next tick.
			for ctx.Err() == nil {
				processed, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Error("inspection runner poll failed", "error", err)
				}
				if !processed || r.paused.Load() {
					break
				}
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("inspection runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("inspection runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveCount is the number of inspections this runner is processing.
func (r *Runner) ActiveCount() int {
	return int(r.active.Load())
}

// RunOnce claims and processes the oldest runnable inspection. It reports
// whether an inspection was processed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	candidates, err := r.repo.ListRunnable(ctx, r.now(), r.cfg.MaxAttempts, 5)
	if err != nil {
		return false, fmt.Errorf("list runnable inspections: %w", err)
	}

	for _, c := range candidates {
		claimed, err := r.repo.Claim(ctx, c.ID, r.cfg.MaxAttempts, r.now())
		if err != nil {
			return false, fmt.Errorf("claim inspection %s: %w", c.ID, err)
		}
		if !claimed {
			continue
		}

		insp, err := r.repo.Get(ctx, c.ID)
		if err != nil {
			err = fmt.Errorf("load claimed inspection %s: %w", c.ID, err)
			// Claim counted this attempt.
			c.Attempts++
			r.recordFailure(ctx, logging.WithInspectionID(r.logger, c.ID), c, err)
			return true, err
		}
		r.process(ctx, insp)
		return true, nil
	}
	return false, nil
}

func (r *Runner) process(ctx context.Context, insp *Inspection) {
	r.active.Add(1)
	defer r.active.Add(-1)

	logger := logging.WithInspectionID(r.logger, insp.ID)
	logger.Info("processing inspection", "attempt", insp.Attempts, "title", insp.Title)
	started := time.Now()

	err := r.safeProcess(ctx, insp)
	if err == nil {
		logger.Info("inspection completed", "duration", time.Since(started))
		return
	}

	r.recordFailure(ctx, logger, insp, err)
}

// recordFailure marks insp FAILED and schedules a retry while attempts remain.
func (r *Runner) recordFailure(ctx context.Context, logger *slog.Logger, insp *Inspection, err error) {
	now := r.now()
	var next *time.Time
	if insp.Attempts < r.cfg.MaxAttempts {
		t := now.Add(r.cfg.RetryDelay)
		next = &t
	}
	logger.Error("inspection failed", "attempt", insp.Attempts, "retry_scheduled", next != nil, "error", err)

	// The failure is recorded even when ctx is being cancelled for shutdown.
	if markErr := r.repo.MarkFailed(context.WithoutCancel(ctx), insp.ID, err.Error(), next, now); markErr != nil {
		logger.Error("failed to record inspection failure", "error", markErr)
	}
}

func (r *Runner) safeProcess(ctx context.Context, insp *Inspection) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()
	return r.processor.Process(ctx, insp)
}
