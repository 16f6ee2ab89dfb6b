package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner runs one batch
type Runner interface {
	Run(ctx context.Context, req Request) (*Summary, error)
}

// Scheduler triggers a batch on a fixed interval
type Scheduler struct {
	runner   Runner
	interval time.Duration
	limit    int
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. limit 0 uses the dispatcher default.
func NewScheduler(runner Runner, interval time.Duration, limit int, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		interval: interval,
		limit:    limit,
		logger:   logger.With("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "interval", s.interval, "limit", s.limit)
}

// Stop cancels a running batch between leads and waits for it to return
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled batch panicked", "panic", r)
		}
	}()

	summary, err := s.runner.Run(s.ctx, Request{Limit: s.limit})
	switch {
	case errors.Is(err, ErrBatchRunning):
		s.logger.Debug("batch still running, skipping tick")
	case err != nil:
		s.logger.Error("scheduled batch failed", "error", err)
	default:
		s.logger.Info("scheduled batch done", "processed", summary.Processed, "skipped", len(summary.Skipped))
	}
}
