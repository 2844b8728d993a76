// Package sweeper runs the relay's expiry pass on a fixed schedule,
// independent of request traffic.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"whatsapp-relay/internal/usecase"
)

// DefaultInterval is how often expired state is evicted.
const DefaultInterval = 10 * time.Minute

// Target is the state owner swept on every run.
type Target interface {
	SweepNow() usecase.SweepResult
}

// Sweeper schedules Target.SweepNow. A failing run is logged and never stops
// later runs.
type Sweeper struct {
	target   Target
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	sched   *cron.Cron
	running bool
}

func New(target Target, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, errors.New("sweeper: target must not be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}, nil
}

// Start schedules the sweep. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.sched = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.sched.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		_, _ = s.RunOnce()
	}))
	s.sched.Start()
	s.running = true
	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
}

// Stop unschedules the sweep and waits for an in-flight run, or until ctx
// is done.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	sched := s.sched
	s.running = false
	s.mu.Unlock()

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out waiting for running sweep")
	}
	s.logger.Info("sweeper stopped")
}

// IsRunning reports whether the sweep is scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce performs one sweep, converting a panic into an error.
func (s *Sweeper) RunOnce() (res usecase.SweepResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper: sweep panicked: %v", r)
			s.logger.Error("sweep failed", slog.Any("err", err))
		}
	}()

	res = s.target.SweepNow()
	if res.Total() > 0 {
		s.logger.Info("expired state evicted",
			slog.Int("conversations", res.Conversations),
			slog.Int("dedup_records", res.DedupRecords),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		s.logger.Debug("sweep found nothing to evict")
	}
	return res, nil
}
