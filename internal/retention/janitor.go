// Package retention deletes coaching inspections once they expire, together
// with the frame images stored for them.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/heimdex/heimdex-inspect/internal/frames"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
	"github.com/heimdex/heimdex-inspect/internal/logging"
)

const DefaultSchedule = "@hourly"

// Repository is the part of the inspection repository the janitor needs.
type Repository interface {
	ListExpired(ctx context.Context, now time.Time) ([]*inspection.Inspection, error)
	ListFrames(ctx context.Context, inspectionID string) ([]frames.Frame, error)
	Delete(ctx context.Context, id string) error
}

type Janitor struct {
	repo     Repository
	store    *frames.Store
	schedule cronlib.Schedule
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cronlib.Cron
}

// ParseSchedule accepts five-field cron expressions and descriptors such as
// @hourly or @every 30m.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", expr, err)
	}
	return sched, nil
}

func NewJanitor(repo Repository, store *frames.Store, schedule string, logger *slog.Logger) (*Janitor, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	return &Janitor{
		repo:     repo,
		store:    store,
		schedule: sched,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "retention"),
		now:      time.Now,
	}, nil
}

// Start runs Sweep on the schedule until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.cron != nil {
		j.mu.Unlock()
		return
	}
	c := cronlib.New()
	c.Schedule(j.schedule, cronlib.FuncJob(func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("retention sweep failed", "error", err)
		}
	}))
	j.cron = c
	j.mu.Unlock()

	c.Start()
	j.logger.Info("retention janitor started", "next_run", j.schedule.Next(j.now()))

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		j.logger.Info("retention janitor stopped")
	}
}

// Sweep deletes every expired coaching inspection and returns how many were
// removed. One failing inspection does not stop the others.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	expired, err := j.repo.ListExpired(ctx, j.now())
	if err != nil {
		return 0, fmt.Errorf("list expired inspections: %w", err)
	}

	removed := 0
	var errs []error
	for _, insp := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := j.purge(ctx, insp); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("expired inspections removed", "count", removed)
	}
	return removed, errors.Join(errs...)
}

func (j *Janitor) purge(ctx context.Context, insp *inspection.Inspection) error {
	fs, err := j.repo.ListFrames(ctx, insp.ID)
	if err != nil {
		return fmt.Errorf("list frames of %s: %w", insp.ID, err)
	}

	if j.store != nil {
		for _, f := range fs {
			if !j.store.Owns(f.Path) {
				continue
			}
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				j.logger.Warn("failed to remove frame image", "inspection_id", insp.ID, "path", logging.SanitizePath(f.Path), "error", err)
			}
		}
		if err := j.store.RemoveInspection(insp.ID); err != nil {
			return fmt.Errorf("remove frames of %s: %w", insp.ID, err)
		}
	}

	if err := j.repo.Delete(ctx, insp.ID); err != nil && !errors.Is(err, inspection.ErrNotFound) {
		return fmt.Errorf("delete inspection %s: %w", insp.ID, err)
	}
	j.logger.Debug("inspection expired", "inspection_id", insp.ID, "frames", len(fs))
	return nil
}
