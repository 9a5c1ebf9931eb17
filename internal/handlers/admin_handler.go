package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
)

// JobRunner runs the background jobs on demand
type JobRunner interface {
	JobStatusReporter
	RunStalePendingNow()
	RunReconciliationNow()
}

// AuditTrailReader reads the payment audit log
type AuditTrailReader interface {
	Trail(ctx context.Context, intentID string) ([]models.PaymentAudit, error)
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	jobs   JobRunner
	audits AuditTrailReader
	logger *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(jobs JobRunner, audits AuditTrailReader, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{jobs: jobs, audits: audits, logger: logger}
}

// JobStatus lists the scheduled jobs
// GET /api/v1/admin/jobs
func (h *AdminHandler) JobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}

// RunJob runs a job synchronously
// POST /api/v1/admin/jobs/:job/run
func (h *AdminHandler) RunJob(c *gin.Context) {
	job := c.Param("job")
	var run func()
	switch job {
	case "stale-pending":
		run = h.jobs.RunStalePendingNow
	case "reconciliation":
		run = h.jobs.RunReconciliationNow
	default:
		respondError(c, h.logger, models.NewNotFoundError("job_not_found", "Unknown job "+job))
		return
	}

	user := middleware.MustGetUserContext(c)
	h.logger.WithFields(logrus.Fields{
		"job":        job,
		"account_id": user.AccountID,
	}).Info("Manual job run requested")

	start := time.Now()
	run()
	c.JSON(http.StatusOK, gin.H{
		"job":         job,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// PaymentTrail returns the audit entries of a gateway intent
// GET /api/v1/admin/payments/:intent/audit
func (h *AdminHandler) PaymentTrail(c *gin.Context) {
	trail, err := h.audits.Trail(c.Request.Context(), c.Param("intent"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent_id": c.Param("intent"), "entries": trail})
}
