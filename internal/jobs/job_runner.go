package jobs

import (
	"database/sql"

	"tradehub-backend/internal/config"
	"tradehub-backend/internal/logger"
	"tradehub-backend/internal/repository/postgres"
	"tradehub-backend/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	db        *sql.DB
	store     *postgres.Store
	publisher service.NotificationPublisher
	config    *config.Config
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(db *sql.DB, store *postgres.Store, publisher service.NotificationPublisher, cfg *config.Config) *JobRunner {
	return &JobRunner{
		db:        db,
		store:     store,
		publisher: publisher,
		config:    cfg,
	}
}

// Config exposes the runner's configuration to the scheduler
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ReapStaleTopups()
	jr.AuditLedger()
	jr.SendBalanceAlerts()
}
