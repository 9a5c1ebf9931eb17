package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coachconnect/booking-engine/internal/models"
)

// AvailabilityRepository handles weekly rules and date exceptions
type AvailabilityRepository struct {
	db DB
}

// NewAvailabilityRepository creates a new AvailabilityRepository
func NewAvailabilityRepository(db DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListRules returns every weekly rule of a trainer ordered by weekday
func (r *AvailabilityRepository) ListRules(ctx context.Context, trainerID int64) ([]models.AvailabilityRule, error) {
	rules := []models.AvailabilityRule{}
	err := r.db.SelectContext(ctx, &rules, `
		SELECT id, trainer_id, day_of_week, start_time, end_time, is_active, created_at
		FROM availability_rules
		WHERE trainer_id = $1
		ORDER BY day_of_week`, trainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list availability rules: %w", err)
	}
	return rules, nil
}

// ReplaceWeeklyRules deletes all of a trainer's rules and inserts the new schedule in one transaction
func (r *AvailabilityRepository) ReplaceWeeklyRules(ctx context.Context, trainerID int64, schedule []models.DaySchedule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules WHERE trainer_id = $1`, trainerID); err != nil {
		return fmt.Errorf("failed to delete availability rules: %w", err)
	}

	for _, day := range schedule {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO availability_rules (trainer_id, day_of_week, start_time, end_time, is_active)
			VALUES ($1, $2, $3, $4, $5)`,
			trainerID, day.Day, day.Start, day.End, day.Active)
		if err != nil {
			return fmt.Errorf("failed to insert availability rule for day %d: %w", day.Day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListExceptions returns the exceptions of a trainer between two dates inclusive
func (r *AvailabilityRepository) ListExceptions(ctx context.Context, trainerID int64, from, to time.Time) ([]models.AvailabilityException, error) {
	exceptions := []models.AvailabilityException{}
	err := r.db.SelectContext(ctx, &exceptions, `
		SELECT id, trainer_id, exception_date, exception_type, start_time, end_time, reason, created_at
		FROM availability_exceptions
		WHERE trainer_id = $1 AND exception_date BETWEEN $2::date AND $3::date
		ORDER BY exception_date, start_time NULLS FIRST`,
		trainerID, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list availability exceptions: %w", err)
	}
	return exceptions, nil
}

// AddException inserts a date override
func (r *AvailabilityRepository) AddException(ctx context.Context, exception *models.AvailabilityException) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO availability_exceptions (trainer_id, exception_date, exception_type, start_time, end_time, reason)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		RETURNING id, created_at`,
		exception.TrainerID,
		exception.ExceptionDate.Format(models.DateLayout),
		exception.ExceptionType,
		exception.StartTime,
		exception.EndTime,
		exception.Reason,
	).Scan(&exception.ID, &exception.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add availability exception: %w", err)
	}
	return nil
}

// DeleteException removes an exception owned by the trainer and returns it, or nil if absent
func (r *AvailabilityRepository) DeleteException(ctx context.Context, trainerID, exceptionID int64) (*models.AvailabilityException, error) {
	var exception models.AvailabilityException
	err := r.db.GetContext(ctx, &exception, `
		DELETE FROM availability_exceptions
		WHERE id = $1 AND trainer_id = $2
		RETURNING id, trainer_id, exception_date, exception_type, start_time, end_time, reason, created_at`,
		exceptionID, trainerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete availability exception: %w", err)
	}
	return &exception, nil
}
