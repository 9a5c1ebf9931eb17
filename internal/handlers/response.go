package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
)

// Unauthorized codes that mean "who are you" rather than "you may not"
var authenticationCodes = map[string]bool{
	"authentication_required": true,
	"invalid_credentials":     true,
}

// respondError writes the HTTP form of err. Datastore and unexpected errors
// are logged in full and answered with a generic message.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	appErr, ok := models.AsAppError(err)
	if !ok {
		logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"code":    "internal_error",
			"message": "Something went wrong. Please try again later.",
		})
		return
	}

	status := statusFor(appErr)
	body := gin.H{
		"error":     string(appErr.Kind),
		"code":      appErr.Code,
		"message":   appErr.Message,
		"retryable": appErr.Retryable,
	}

	switch appErr.Kind {
	case models.KindDatastore:
		logger.WithError(appErr.Err).WithField("path", c.FullPath()).Error("Datastore error")
		body["message"] = "The service is temporarily unavailable. Please try again."
	case models.KindPaymentVerification:
		logger.WithError(appErr.Err).WithFields(logrus.Fields{
			"path": c.FullPath(),
			"code": appErr.Code,
		}).Warn("Payment verification failed")
	case models.KindReconciliationRequired:
		body["status"] = "payment_received"
	}

	if appErr.Retryable && status >= 500 {
		c.Header("Retry-After", "5")
	}
	c.JSON(status, body)
}

func statusFor(e *models.AppError) int {
	switch e.Kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConflict, models.KindInsufficientCredit:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnauthorized:
		if authenticationCodes[e.Code] {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case models.KindPaymentVerification:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusPaymentRequired
	case models.KindReconciliationRequired:
		return http.StatusAccepted
	case models.KindDatastore:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes the request body into dst. Field validation happens in the services.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return models.NewValidationError("invalid_body", "Request body must be valid JSON: "+err.Error())
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return bindJSON(c, dst)
}

// idParam parses a positive integer path parameter, failing with code
func idParam(c *gin.Context, name, code string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError(code, name+" must be a positive integer")
	}
	return id, nil
}
