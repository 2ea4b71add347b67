// Package scheduler runs folder scans on a cron schedule
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/scanner"
)

// Scanner is what the scheduler triggers
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Report, error)
}

// Scheduler triggers scans on a cron expression. Overlapping runs are
// skipped by the cron chain and by the scan lock.
type Scheduler struct {
	spec    string
	scanner Scanner
	logger  *zap.Logger

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a scheduler for spec, a standard five-field expression or a
// descriptor such as "@every 10m"
func New(spec string, s Scanner, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("scan.schedule %q: %w", spec, err))
	}
	return &Scheduler{spec: spec, scanner: s, logger: logger}, nil
}

// Start begins scheduling until Stop or ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()
	s.running = true

	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()

	s.logger.Info("Scan scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop halts scheduling and waits for a running scan to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scan scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run() {
	report, err := s.scanner.Scan(s.ctx)
	switch {
	case errors.Is(err, apperrors.ErrScanInProgress):
		s.logger.Info("Scheduled scan skipped, another scan is running")
	case err != nil:
		s.logger.Error("Scheduled scan failed", zap.Error(err))
	default:
		s.logger.Info("Scheduled scan done",
			zap.Int("imported", report.Imported),
			zap.Int("skipped", report.Skipped),
			zap.Int("errors", len(report.Errors)))
	}
}
