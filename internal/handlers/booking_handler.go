package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
)

// BookingAPI is the booking surface the handler needs
type BookingAPI interface {
	CreateBooking(ctx context.Context, actor *models.Actor, req models.CreateBookingRequest) (*models.CreateBookingResponse, error)
	Quote(ctx context.Context, req models.QuoteRequest) (*models.PriceQuote, error)
	GetBooking(ctx context.Context, actor *models.Actor, ref string) (*models.Booking, error)
	CancelBooking(ctx context.Context, actor *models.Actor, bookingID int64, reason string) (*models.StatusResponse, error)
	CompleteBooking(ctx context.Context, actor *models.Actor, bookingID int64) (*models.StatusResponse, error)
	CreateGroupSession(ctx context.Context, actor *models.Actor, req models.CreateGroupSessionRequest) (*models.GroupSession, error)
	LeaveGroupSession(ctx context.Context, actor *models.Actor, sessionID, bookingID int64, reason string) (*models.StatusResponse, error)
}

// BookingHandler serves bookings and group sessions
type BookingHandler struct {
	bookings BookingAPI
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// Quote prices a number of sessions without booking
// POST /api/v1/bookings/quote
func (h *BookingHandler) Quote(c *gin.Context) {
	var req models.QuoteRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	quote, err := h.bookings.Quote(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// Create books a single session, a package or a recurring series. Anonymous
// callers book as guests.
// POST /api/v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.bookings.CreateBooking(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get returns a booking by id or booking number
// GET /api/v1/bookings/:ref
func (h *BookingHandler) Get(c *gin.Context) {
	booking, err := h.bookings.GetBooking(c.Request.Context(), middleware.Actor(c), c.Param("ref"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// Cancel cancels a pending or confirmed booking
// POST /api/v1/bookings/:ref/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	bookingID, err := idParam(c, "ref", "invalid_booking")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req models.CancelBookingRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.bookings.CancelBooking(c.Request.Context(), middleware.Actor(c), bookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Complete marks a confirmed session as held. Trainer only.
// POST /api/v1/bookings/:ref/complete
func (h *BookingHandler) Complete(c *gin.Context) {
	bookingID, err := idParam(c, "ref", "invalid_booking")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.bookings.CompleteBooking(c.Request.Context(), middleware.Actor(c), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateGroupSession opens a group session in one of the caller's slots
// POST /api/v1/group-sessions
func (h *BookingHandler) CreateGroupSession(c *gin.Context) {
	var req models.CreateGroupSessionRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	session, err := h.bookings.CreateGroupSession(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type joinGroupRequest struct {
	TrainerID int64             `json:"trainer_id"`
	PlayerID  int64             `json:"player_id"`
	Guest     *models.GuestInfo `json:"guest,omitempty"`
	Notes     string            `json:"notes"`
}

// JoinGroupSession books one seat in a group session
// POST /api/v1/group-sessions/:id/join
func (h *BookingHandler) JoinGroupSession(c *gin.Context) {
	sessionID, err := idParam(c, "id", "invalid_group_session")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req joinGroupRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.bookings.CreateBooking(c.Request.Context(), middleware.Actor(c), models.CreateBookingRequest{
		TrainerID:      req.TrainerID,
		SessionType:    models.SessionGroup,
		GroupSessionID: sessionID,
		PlayerID:       req.PlayerID,
		Guest:          req.Guest,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

type leaveGroupRequest struct {
	BookingID int64  `json:"booking_id"`
	Reason    string `json:"reason"`
}

// LeaveGroupSession gives the caller's seat back
// POST /api/v1/group-sessions/:id/leave
func (h *BookingHandler) LeaveGroupSession(c *gin.Context) {
	sessionID, err := idParam(c, "id", "invalid_group_session")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req leaveGroupRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if req.BookingID <= 0 {
		respondError(c, h.logger, models.NewValidationError("invalid_booking", "booking_id is required"))
		return
	}

	resp, err := h.bookings.LeaveGroupSession(c.Request.Context(), middleware.Actor(c), sessionID, req.BookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
