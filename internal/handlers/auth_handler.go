package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/internal/utils"
)

// Authenticator checks account credentials
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.Account, error)
}

// TokenIssuer signs access tokens
type TokenIssuer interface {
	GenerateAccessToken(accountID int64, email string, roles []string) (string, error)
}

// AuthHandler exchanges credentials for an access token
type AuthHandler struct {
	identity Authenticator
	tokens   TokenIssuer
	logger   *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(identity Authenticator, tokens TokenIssuer, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, tokens: tokens, logger: logger}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// Login authenticates a full account
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := models.Validate(req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	account, err := h.identity.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if models.IsKind(err, models.KindUnauthorized) {
			device := utils.ParseUserAgent(utils.GetUserAgent(c))
			h.logger.WithFields(logrus.Fields{
				"client_ip":   utils.GetRealIP(c),
				"device_type": device.DeviceType,
			}).Warn("Failed login attempt")
		}
		respondError(c, h.logger, err)
		return
	}

	token, err := h.tokens.GenerateAccessToken(account.ID, account.Email, account.Roles)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"account":      account,
	})
}
