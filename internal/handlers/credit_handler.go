package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
)

// CreditAPI is the package credit surface the handler needs
type CreditAPI interface {
	Redeem(ctx context.Context, actor *models.Actor, creditID int64, req models.RedeemCreditRequest) (*models.RedeemCreditResponse, error)
	ListCredits(ctx context.Context, actor *models.Actor) ([]models.PackageCredit, error)
}

type CreditHandler struct {
	credits CreditAPI
	logger  *logrus.Logger
}

func NewCreditHandler(credits CreditAPI, logger *logrus.Logger) *CreditHandler {
	return &CreditHandler{credits: credits, logger: logger}
}

// List returns the caller's package credits
// GET /api/v1/credits
func (h *CreditHandler) List(c *gin.Context) {
	credits, err := h.credits.ListCredits(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

// Redeem books a prepaid session against a credit
// POST /api/v1/credits/:id/redeem
func (h *CreditHandler) Redeem(c *gin.Context) {
	creditID, err := idParam(c, "id", "invalid_credit")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req models.RedeemCreditRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.credits.Redeem(c.Request.Context(), middleware.Actor(c), creditID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
