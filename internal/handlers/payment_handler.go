package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
)

// PaymentAPI is the payment surface the handler needs
type PaymentAPI interface {
	CreateIntent(ctx context.Context, actor *models.Actor, req models.CreateIntentRequest) (*models.IntentResponse, error)
	CreatePackageIntent(ctx context.Context, actor *models.Actor, trainerID int64, size int) (*models.IntentResponse, error)
	ConfirmPayment(ctx context.Context, req models.ConfirmPaymentRequest) (*models.StatusResponse, error)
	ConfirmPackagePurchase(ctx context.Context, actor *models.Actor, req models.ConfirmPackageRequest) (*models.PackageCredit, error)
}

// PaymentHandler serves payment intents and confirmations
type PaymentHandler struct {
	payments PaymentAPI
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentAPI, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// CreateIntent returns a client secret for paying a booking (or its series),
// named by booking number or, for its parent or trainer, by id
// POST /api/v1/payments/intents
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req models.CreateIntentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.payments.CreateIntent(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Confirm verifies the intent with the gateway and confirms the booking.
// Safe to call more than once.
// POST /api/v1/payments/confirm
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req models.ConfirmPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.payments.ConfirmPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type packageIntentRequest struct {
	TrainerID   int64 `json:"trainer_id"`
	PackageSize int   `json:"package_size"`
}

// CreatePackageIntent starts the purchase of a prepaid session package
// POST /api/v1/packages/intents
func (h *PaymentHandler) CreatePackageIntent(c *gin.Context) {
	var req packageIntentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.payments.CreatePackageIntent(c.Request.Context(), middleware.Actor(c), req.TrainerID, req.PackageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ConfirmPackage grants the package credit once the gateway reports payment
// POST /api/v1/packages/confirm
func (h *PaymentHandler) ConfirmPackage(c *gin.Context) {
	var req models.ConfirmPackageRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	credit, err := h.payments.ConfirmPackagePurchase(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, credit)
}
