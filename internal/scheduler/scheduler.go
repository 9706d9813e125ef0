// Package scheduler runs the periodic batch trigger in the site's timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
)

const jobTimeout = 15 * time.Minute

// Runner is the engine surface the scheduler needs.
type Runner interface {
	ExecuteBatch(ctx context.Context, trigger domain.Trigger, force bool) (*domain.BatchResult, error)
}

// Service fires the scheduled trigger once per operational day. Lock denial
// is an expected outcome (another trigger got there first), logged and
// dropped.
type Service struct {
	c      *cron.Cron
	runner Runner
	logger logger.Logger
}

// New creates a scheduler with the given cron spec in loc.
func New(spec string, loc *time.Location, runner Runner, log logger.Logger) (*Service, error) {
	s := &Service{
		c:      cron.New(cron.WithLocation(loc)),
		runner: runner,
		logger: log,
	}

	if _, err := s.c.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return s, nil
}

func (s *Service) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.logger.Info("scheduled batch trigger firing")

	result, err := s.runner.ExecuteBatch(ctx, domain.TriggerScheduled, false)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		s.logger.Info("scheduled batch skipped, another batch is running")
		return
	}
	if err != nil {
		s.logger.Error("scheduled batch failed", logger.Error(err))
		return
	}

	s.logger.Info("scheduled batch done",
		logger.Bool("success", result.Success),
		logger.Int("republished", len(result.Republished)),
	)
}

// Start begins the cron loop in its own goroutine.
func (s *Service) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Service) Stop() {
	stopCtx := s.c.Stop()
	<-stopCtx.Done()
}
