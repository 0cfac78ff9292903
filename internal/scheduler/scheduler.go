package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"tradehub-backend/internal/jobs"
	"tradehub-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a new scheduler with the provided job runner
func NewScheduler(jobRunner *jobs.JobRunner) *Scheduler {
	// Create cron with UTC timezone and seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs()
	return s
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() {
	cfg := s.jobs.Config().Scheduler

	// Clear abandoned topup processing locks
	_, err := s.cron.AddFunc(cfg.ReapStaleTopups, s.jobs.ReapStaleTopups)
	if err != nil {
		logger.Error("Failed to register ReapStaleTopups job", "error", err)
	}

	// Nightly ledger invariant audit
	_, err = s.cron.AddFunc(cfg.AuditLedger, s.jobs.AuditLedger)
	if err != nil {
		logger.Error("Failed to register AuditLedger job", "error", err)
	}

	// Daily low-balance digest
	_, err = s.cron.AddFunc(cfg.SendBalanceAlerts, s.jobs.SendBalanceAlerts)
	if err != nil {
		logger.Error("Failed to register SendBalanceAlerts job", "error", err)
	}
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler
func (s *Scheduler) Stop() {
	logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Scheduler stopped")
}
