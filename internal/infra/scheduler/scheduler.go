// Package scheduler drives the periodic work of the loyalty engine: the
// boundary tick over every loaded driver and the per-second display frames
// for drivers that are online.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
)

// Ticker is the target of the boundary tick.
type Ticker interface {
	TickAll(ctx context.Context, now time.Time) []loyalty.DriverReport
}

// Config controls the boundary scheduler.
type Config struct {
	// TickInterval is how often every driver is ticked.
	TickInterval time.Duration
	// MidnightTick adds a tick at 00:00 in the clock's location.
	MidnightTick bool
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{TickInterval: time.Minute, MidnightTick: true}
}

// Scheduler ticks every driver on a cron schedule. A tick that is still
// running when the next one is due is skipped.
type Scheduler struct {
	cron   *cron.Cron
	target Ticker
	clock  domain.Clock
	config Config

	// OnReport, if set, receives the result of every tick.
	OnReport func([]loyalty.DriverReport)

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	ticks   int
}

// New creates a scheduler in the clock's location.
func New(target Ticker, clock domain.Clock, cfg Config) *Scheduler {
	loc := clock.Now().Location()
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   c,
		target: target,
		clock:  clock,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler already stopped")
	}
	if s.started {
		return nil
	}
	if s.config.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", s.config.TickInterval)
	}

	spec := fmt.Sprintf("@every %s", s.config.TickInterval)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if s.config.MidnightTick {
		if _, err := s.cron.AddFunc("0 0 * * *", s.run); err != nil {
			return fmt.Errorf("schedule midnight tick: %w", err)
		}
	}
	s.cron.Start()
	s.started = true
	log.WithFields(log.Fields{
		"interval": s.config.TickInterval.String(),
		"midnight": s.config.MidnightTick,
		"location": s.clock.Now().Location().String(),
	}).Info("scheduler started")
	return nil
}

// RunOnce ticks every driver now.
func (s *Scheduler) RunOnce(ctx context.Context) []loyalty.DriverReport {
	reports := s.target.TickAll(ctx, s.clock.Now())

	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()

	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.WithFields(log.Fields{"drivers": len(reports), "failed": failed}).Warn("tick finished with failures")
	}
	if s.OnReport != nil {
		s.OnReport(reports)
	}
	return reports
}

func (s *Scheduler) run() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.RunOnce(s.ctx)
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Stop halts the schedule and waits for a running tick to finish. No tick
// starts after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel()
	log.Info("scheduler stopped")
}
