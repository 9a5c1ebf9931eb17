package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/config"
)

// jobTimeout bounds one run of a background job
const jobTimeout = 2 * time.Minute

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	payments *PaymentService
	config   config.JobsConfig
	logger   *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(payments *PaymentService, cfg config.JobsConfig, logger *logrus.Logger) *CronService {
	// second minute hour day month weekday
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &CronService{
		cron:     c,
		payments: payments,
		config:   cfg,
		logger:   logger,
	}
}

// Start schedules and starts all jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.config.StalePendingSchedule, s.stalePendingJob); err != nil {
		return fmt.Errorf("failed to schedule stale pending job: %w", err)
	}
	s.logger.WithField("schedule", s.config.StalePendingSchedule).Info("✓ Scheduled: Reconcile stale pending bookings")

	if _, err := s.cron.AddFunc(s.config.ReconciliationSchedule, s.reconciliationJob); err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.logger.WithField("schedule", s.config.ReconciliationSchedule).Info("✓ Scheduled: Retry payment reconciliations")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) stalePendingJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	confirmed, cancelled, err := s.payments.ReconcileStalePending(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Stale pending reconciliation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"confirmed": confirmed,
		"cancelled": cancelled,
		"duration":  time.Since(start).String(),
	}).Debug("[CRON] Stale pending reconciliation finished")
}

func (s *CronService) reconciliationJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	resolved, err := s.payments.RetryReconciliations(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Reconciliation retry failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"resolved": resolved,
		"duration": time.Since(start).String(),
	}).Debug("[CRON] Reconciliation retry finished")
}

// RunStalePendingNow runs the stale pending job immediately
func (s *CronService) RunStalePendingNow() {
	s.logger.Info("[MANUAL] Running stale pending reconciliation now...")
	s.stalePendingJob()
}

// RunReconciliationNow runs the reconciliation retry job immediately
func (s *CronService) RunReconciliationNow() {
	s.logger.Info("[MANUAL] Running reconciliation retry now...")
	s.reconciliationJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running": len(entries) > 0,
		"jobs":    jobs,
	}
}
