package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger reports datastore reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// JobStatusReporter reports the background job schedule
type JobStatusReporter interface {
	GetJobStatus() map[string]interface{}
}

type HealthHandler struct {
	db      Pinger
	jobs    JobStatusReporter
	version string
	logger  *logrus.Logger
}

// NewHealthHandler creates a new HealthHandler. jobs may be nil when background jobs are disabled.
func NewHealthHandler(db Pinger, jobs JobStatusReporter, version string, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs, version: version, logger: logger}
}

// Check returns a health check endpoint
// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check: database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	body := gin.H{
		"status":    "healthy",
		"database":  "healthy",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
	}
	if h.jobs != nil {
		body["jobs"] = h.jobs.GetJobStatus()
	}
	c.JSON(http.StatusOK, body)
}
