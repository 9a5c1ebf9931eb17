package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/internal/utils"
)

// AuditService records payment audit entries together with the client that
// triggered them. Audit failures are logged and never fail the payment flow.
type AuditService struct {
	store  PaymentAuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store PaymentAuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// Record writes the entry, attaching request metadata from ctx
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit) {
	if meta, ok := utils.RequestMetaFrom(ctx); ok {
		if meta.RequestID != "" {
			id := meta.RequestID
			audit.CorrelationID = &id
		}
		if meta.IP != "" {
			audit.WithDetail("ip_address", meta.IP)
		}
		if meta.UserAgent != "" {
			audit.WithDetail("device_info", utils.ParseUserAgent(meta.UserAgent))
		}
	}

	if err := s.store.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"audit_id":   audit.ID,
		}).Error("Failed to record payment audit")
	}
}

// Trail returns every audit entry of a gateway intent, oldest first
func (s *AuditService) Trail(ctx context.Context, intentID string) ([]models.PaymentAudit, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, models.NewValidationError("invalid_intent", "intent id is required")
	}
	audits, err := s.store.ListByIntentID(ctx, intentID)
	if err != nil {
		return nil, datastoreError(err)
	}
	return audits, nil
}
