package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atondwal/reflect/internal/types"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule the sweeper accepts.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Sweeper periodically deletes transcripts that have not been updated
// within MaxAge.
type Sweeper struct {
	store  types.TranscriptStore
	maxAge time.Duration
	now    func() time.Time
	cron   *cron.Cron
}

// New creates a Sweeper. A non-positive maxAge disables deletion.
func New(store types.TranscriptStore, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
		cron:   cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep on schedule and starts the cron ticker.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	slog.Info("retention sweeper scheduled", "schedule", schedule, "max_age", s.maxAge)
	return nil
}

// Stop stops the ticker and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep deletes every transcript last updated before now minus MaxAge and
// returns how many were removed. It keeps going past individual failures.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.maxAge <= 0 {
		return 0, nil
	}
	metas, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list transcripts: %w", err)
	}
	cutoff := s.now().Add(-s.maxAge)

	var removed int
	var firstErr error
	for _, m := range metas {
		if !m.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, m.ID); err != nil {
			slog.Warn("retention delete failed", "chat_id", string(m.ID), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", m.ID, err)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("retention sweep", "removed", removed, "cutoff", cutoff)
	}
	return removed, firstErr
}
