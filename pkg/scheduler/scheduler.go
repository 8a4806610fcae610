// Package scheduler runs the engine's periodic reset and cleanup jobs:
// daily/monthly credential counter resets, an hourly staleness check
// covering downtime gaps, and a weekly ranking-record cleanup sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
)

// Pool is the subset of pkg/pool's Pool the scheduler drives.
type Pool interface {
	ResetDailyAll(ctx context.Context) error
	ResetMonthlyAll(ctx context.Context) error
	CheckMonthlyIfStale(ctx context.Context)
}

// RecordStore is the subset of pkg/rankrepo's RankingRepository the
// weekly cleanup job drives.
type RecordStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes job cadence; zero values take their defaults.
type Config struct {
	RetentionDays int
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Scheduler drives the engine's background jobs. Each job runs on its
// own goroutine ticking hourly; the handler itself decides whether
// "now" is the right moment to fire (midnight, first-of-month, Sunday
// 02:00). A target hour that passes while the process is down is not
// made up later; the hourly staleness check covers a missed monthly
// reset only.
type Scheduler struct {
	pool    Pool
	records RecordStore
	cfg     Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}

	lastDailyReset    time.Time
	lastMonthlyReset  time.Time
	lastWeeklyCleanup time.Time
}

// New constructs a Scheduler. Call Start to begin running jobs.
func New(pool Pool, records RecordStore, cfg Config) *Scheduler {
	return &Scheduler{
		pool:     pool,
		records:  records,
		cfg:      cfg.withDefaults(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background job loops. It blocks until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	gologger.Info().Msg("scheduler: starting reset and cleanup jobs")

	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"daily_reset", time.Hour, s.runDailyReset},
		{"monthly_reset", time.Hour, s.runMonthlyReset},
		{"monthly_staleness_check", time.Hour, s.runStalenessCheck},
		{"weekly_cleanup", time.Hour, s.runWeeklyCleanup},
	}

	for _, job := range jobs {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			s.loop(ctx, name, interval, run)
		}(job.name, job.interval, job.run)
	}

	select {
	case <-ctx.Done():
		gologger.Info().Msg("scheduler: context cancelled, stopping")
	case <-s.stopChan:
		gologger.Info().Msg("scheduler: stop signal received")
	}

	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// Stop signals every job loop to exit.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						gologger.Warning().Msgf("scheduler: job %s panicked: %v", name, r)
					}
				}()
				run(ctx)
			}()
		}
	}
}

func (s *Scheduler) runDailyReset(ctx context.Context) {
	now := s.cfg.Now()
	if now.Hour() != 0 {
		return
	}
	s.mu.Lock()
	if sameDay(s.lastDailyReset, now) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pool.ResetDailyAll(ctx); err != nil {
		gologger.Warning().Msgf("scheduler: daily reset failed: %v", err)
		return
	}
	s.mu.Lock()
	s.lastDailyReset = now
	s.mu.Unlock()
	gologger.Info().Msg("scheduler: daily credential counters reset")
}

func (s *Scheduler) runMonthlyReset(ctx context.Context) {
	now := s.cfg.Now()
	if now.Day() != 1 || now.Hour() != 0 {
		return
	}
	s.mu.Lock()
	if sameMonth(s.lastMonthlyReset, now) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pool.ResetMonthlyAll(ctx); err != nil {
		gologger.Warning().Msgf("scheduler: monthly reset failed: %v", err)
		return
	}
	s.mu.Lock()
	s.lastMonthlyReset = now
	s.mu.Unlock()
	gologger.Info().Msg("scheduler: monthly credential counters reset")
}

func (s *Scheduler) runStalenessCheck(ctx context.Context) {
	s.pool.CheckMonthlyIfStale(ctx)
}

func (s *Scheduler) runWeeklyCleanup(ctx context.Context) {
	now := s.cfg.Now()
	if now.Weekday() != time.Sunday || now.Hour() != 2 {
		return
	}
	s.mu.Lock()
	if sameDay(s.lastWeeklyCleanup, now) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		gologger.Warning().Msgf("scheduler: weekly cleanup failed: %v", err)
		return
	}
	s.mu.Lock()
	s.lastWeeklyCleanup = now
	s.mu.Unlock()
	gologger.Info().Msgf("scheduler: weekly cleanup removed %d ranking records older than %d days", deleted, s.cfg.RetentionDays)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
