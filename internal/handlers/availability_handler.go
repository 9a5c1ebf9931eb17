package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
)

const maxScheduleBody = 64 << 10

// AvailabilityAPI is the availability surface the handler needs
type AvailabilityAPI interface {
	GetAvailableSlots(ctx context.Context, trainerID int64, date time.Time) (*models.DayAvailability, error)
	GetMonthlyAvailability(ctx context.Context, trainerID int64, year, month int) (*models.MonthAvailability, error)
	SaveWeeklySchedule(ctx context.Context, actor *models.Actor, raw []byte) ([]models.DaySchedule, error)
	AddException(ctx context.Context, actor *models.Actor, req models.AddExceptionRequest) (*models.AvailabilityException, error)
	RemoveException(ctx context.Context, actor *models.Actor, exceptionID int64) error
}

// AvailabilityHandler serves trainer availability and schedule management
type AvailabilityHandler struct {
	availability AvailabilityAPI
	logger       *logrus.Logger
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(availability AvailabilityAPI, logger *logrus.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, logger: logger}
}

// GetDay returns the open slots of one date
// GET /api/v1/trainers/:id/availability?date=2006-01-02
func (h *AvailabilityHandler) GetDay(c *gin.Context) {
	trainerID, err := idParam(c, "id", "invalid_trainer")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	date, err := time.Parse(models.DateLayout, c.Query("date"))
	if err != nil {
		respondError(c, h.logger, models.NewValidationError("invalid_date", "date must be in YYYY-MM-DD format"))
		return
	}

	day, err := h.availability.GetAvailableSlots(c.Request.Context(), trainerID, date)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

// GetMonth returns the open start times of every date in a month
// GET /api/v1/trainers/:id/availability/month?year=2025&month=3
func (h *AvailabilityHandler) GetMonth(c *gin.Context) {
	trainerID, err := idParam(c, "id", "invalid_trainer")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	year, yErr := strconv.Atoi(c.Query("year"))
	month, mErr := strconv.Atoi(c.Query("month"))
	if yErr != nil || mErr != nil {
		respondError(c, h.logger, models.NewValidationError("invalid_month", "year and month are required integers"))
		return
	}

	result, err := h.availability.GetMonthlyAvailability(c.Request.Context(), trainerID, year, month)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SaveSchedule replaces the caller's weekly schedule. Every historical
// schedule layout is accepted and normalized.
// PUT /api/v1/trainers/me/schedule
func (h *AvailabilityHandler) SaveSchedule(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxScheduleBody))
	if err != nil {
		respondError(c, h.logger, models.NewValidationError("invalid_schedule", "schedule body is too large or unreadable"))
		return
	}

	schedule, err := h.availability.SaveWeeklySchedule(c.Request.Context(), middleware.Actor(c), raw)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": schedule})
}

// AddException blocks a date or opens extra hours on it
// POST /api/v1/trainers/me/exceptions
func (h *AvailabilityHandler) AddException(c *gin.Context) {
	var req models.AddExceptionRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	exception, err := h.availability.AddException(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, exception)
}

// RemoveException deletes one of the caller's exceptions
// DELETE /api/v1/trainers/me/exceptions/:id
func (h *AvailabilityHandler) RemoveException(c *gin.Context) {
	exceptionID, err := idParam(c, "id", "invalid_exception")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.availability.RemoveException(c.Request.Context(), middleware.Actor(c), exceptionID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
