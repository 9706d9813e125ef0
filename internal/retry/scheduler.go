// Package retry arms delayed, failure-only re-runs with exponential backoff.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
)

const runTimeout = 5 * time.Minute

// Runner executes the failure-only re-run. Satisfied by the engine.
type Runner interface {
	RunRetry(ctx context.Context, itemIDs []int64, attempt int) (*domain.BatchResult, error)
}

// Config bounds the backoff schedule.
type Config struct {
	// BaseDelay is the delay before the first retry; attempt n waits
	// BaseDelay * 2^(n-1), capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxAttempts caps retries per item set; exceeding it leaves the items
	// permanently failed in history for operator visibility.
	MaxAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   5 * time.Minute,
		MaxDelay:    time.Hour,
		MaxAttempts: 3,
	}
}

// Scheduler owns the pending retry timers. Stop cancels anything armed.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger logger.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// New creates a retry scheduler.
func New(runner Runner, cfg Config, log logger.Logger) *Scheduler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: log,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Delay returns the backoff delay for the given attempt number (1-based).
func (s *Scheduler) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	if delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// Arm schedules a re-run of the given failed items. Past the attempt cap the
// items stay permanently failed and nothing is armed.
func (s *Scheduler) Arm(itemIDs []int64, attempt int) {
	if len(itemIDs) == 0 {
		return
	}
	if attempt > s.cfg.MaxAttempts {
		s.logger.Warn("retries exhausted, items remain failed",
			logger.Int64s("item_ids", itemIDs),
			logger.Int("attempts", s.cfg.MaxAttempts),
		)
		return
	}

	delay := s.Delay(attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()
		s.fire(itemIDs, attempt)
	})
	s.timers[timer] = struct{}{}

	s.logger.Info("retry armed",
		logger.Int("attempt", attempt),
		logger.Duration("delay", delay),
		logger.Int("items", len(itemIDs)),
	)
}

func (s *Scheduler) fire(itemIDs []int64, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	_, err := s.runner.RunRetry(ctx, itemIDs, attempt)
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		// A regular batch holds the lock; push this attempt back out
		// without consuming it.
		s.logger.Info("retry deferred, batch in progress", logger.Int("attempt", attempt))
		s.Arm(itemIDs, attempt)
	case err != nil:
		s.logger.Error("retry run failed", logger.Int("attempt", attempt), logger.Error(err))
	}
	// Residual per-item failures re-arm via the engine itself.
}

// Stop cancels all pending retries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}
