package application

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives full refreshes: once at start, every interval, and
// whenever Trigger is called. Triggers arriving during a refresh coalesce
// into one follow-up.
type Scheduler struct {
	log       *slog.Logger
	refresher *Refresher
	interval  time.Duration
	trigger   chan struct{}
}

func NewScheduler(log *slog.Logger, refresher *Refresher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		log:       log,
		refresher: refresher,
		interval:  interval,
		trigger:   make(chan struct{}, 1),
	}
}

func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.refresh(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-t.C:
			s.refresh(ctx, "interval")
		case <-s.trigger:
			s.refresh(ctx, "trigger")
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, reason string) {
	if err := s.refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("scheduled refresh incomplete", "reason", reason, "err", err)
		return
	}
	s.log.Debug("scheduled refresh done", "reason", reason)
}
