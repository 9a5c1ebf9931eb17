package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coachconnect/booking-engine/internal/database"
	"github.com/coachconnect/booking-engine/internal/models"
)

// datastoreError passes typed errors through and wraps everything else
func datastoreError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.NewDatastoreError(err, database.IsTransient(err))
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, models.NewValidationError("invalid_date", fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
	}
	return d, nil
}

func parseTime(s string) (models.TimeOfDay, error) {
	t, err := models.ParseTimeOfDay(s)
	if err != nil {
		return 0, models.NewValidationError("invalid_time", fmt.Sprintf("invalid time %q, expected HH:MM", s))
	}
	return t, nil
}

// NewBookingNumber returns a unique, human-readable reference such as
// TB-20250601-1A2B3C4D
func NewBookingNumber(prefix string, now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate booking number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(hex.EncodeToString(b))), nil
}

// bookingRelation returns "trainer" or "parent" for the caller's relation to b
func bookingRelation(ctx context.Context, trainers TrainerStore, identity *IdentityService, actor *models.Actor, b *models.Booking) (string, error) {
	if actor == nil {
		return "", models.NewUnauthorizedError("authentication_required", "Sign in to manage this booking")
	}

	trainer, err := trainers.GetByAccountID(ctx, actor.AccountID)
	if err != nil {
		return "", datastoreError(err)
	}
	if trainer != nil && trainer.ID == b.TrainerID {
		return "trainer", nil
	}

	if b.ParentID != 0 {
		parent, err := identity.LookupParent(ctx, actor.AccountID)
		if err != nil {
			return "", err
		}
		if parent != nil && parent.ID == b.ParentID {
			return "parent", nil
		}
	}
	return "", models.NewUnauthorizedError("booking_not_owned", "You do not have access to this booking")
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}
