package fitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"
)

var errItemsLeft = errors.New("transient failures left in queue")

// SchedulerConfig controls when drain passes run besides explicit triggers.
type SchedulerConfig struct {
	// Schedule is a cron expression or descriptor ("@every 5m") for the
	// periodic safety-net drain. Empty disables it.
	Schedule string

	// RetryBase and RetryMax bound the exponential backoff used after a
	// pass leaves transient failures behind.
	RetryBase time.Duration
	RetryMax  time.Duration

	// MaxRetries caps follow-up passes per trigger. The periodic schedule
	// and reconnect events keep draining after that.
	MaxRetries uint64
}

// Scheduler decides when the processor runs: on demand, on a cron schedule,
// and with backoff while transient failures remain.
type Scheduler struct {
	drain  func(context.Context) (*PassResult, error)
	cfg    SchedulerConfig
	cron   *cron.Cron
	logger *slog.Logger

	retrying atomic.Bool

	// mu orders wg.Add in Kick against the wait in Stop.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler around drain.
func NewScheduler(drain func(context.Context) (*PassResult, error), cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		drain:  drain,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.WithGroup("scheduler"),
	}
}

// Start begins the periodic schedule. Jobs run until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Schedule == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Trigger(ctx) })
	if err != nil {
		return fmt.Errorf("schedule sync %q: %w", s.cfg.Schedule, err)
	}
	s.logger.Info("scheduled periodic sync", "schedule", s.cfg.Schedule, "entry", entryID)
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for running passes to return. Kicks
// after Stop are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Kick runs Trigger on a new goroutine unless the scheduler is stopped.
func (s *Scheduler) Kick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Trigger(ctx)
	}()
}

// Trigger runs one pass. When transient failures remain it keeps retrying
// with exponential backoff until a pass comes back clean, the device goes
// offline, or the retry budget is spent. Only one retry loop runs at a time;
// other triggers get a single pass.
func (s *Scheduler) Trigger(ctx context.Context) {
	if !s.retrying.CompareAndSwap(false, true) {
		_, _ = s.drain(ctx)
		return
	}
	defer s.retrying.Store(false)

	b := retry.NewExponential(s.cfg.RetryBase)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(s.cfg.RetryMax, b)
	b = retry.WithMaxRetries(s.cfg.MaxRetries, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := s.drain(ctx)
		if err != nil {
			return err
		}
		if res.Transient > 0 {
			return retry.RetryableError(errItemsLeft)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("sync retries stopped", "error", err)
	}
}
