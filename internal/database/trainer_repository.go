package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// TrainerRepository handles trainer lookups
type TrainerRepository struct {
	db DBTX
}

// NewTrainerRepository creates a new TrainerRepository
func NewTrainerRepository(db DBTX) *TrainerRepository {
	return &TrainerRepository{db: db}
}

const trainerColumns = `id, account_id, display_name, hourly_rate_cents, status, created_at, updated_at`

// GetByID returns the trainer or nil if it does not exist
func (r *TrainerRepository) GetByID(ctx context.Context, id int64) (*models.Trainer, error) {
	var trainer models.Trainer
	err := r.db.GetContext(ctx, &trainer, `SELECT `+trainerColumns+` FROM trainers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer: %w", err)
	}
	return &trainer, nil
}

// GetByAccountID returns the trainer profile of an account or nil
func (r *TrainerRepository) GetByAccountID(ctx context.Context, accountID int64) (*models.Trainer, error) {
	var trainer models.Trainer
	err := r.db.GetContext(ctx, &trainer, `SELECT `+trainerColumns+` FROM trainers WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer by account: %w", err)
	}
	return &trainer, nil
}
