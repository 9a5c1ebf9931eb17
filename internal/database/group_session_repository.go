package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// GroupSessionRepository handles group sessions and their capacity
type GroupSessionRepository struct {
	db DB
}

// NewGroupSessionRepository creates a new GroupSessionRepository
func NewGroupSessionRepository(db DB) *GroupSessionRepository {
	return &GroupSessionRepository{db: db}
}

const groupSessionColumns = `
	id, trainer_id, session_date, start_time, end_time, location,
	max_players, current_players, price_per_player_cents, status, created_at`

// Create opens a group session on a free trainer slot
func (r *GroupSessionRepository) Create(ctx context.Context, g *models.GroupSession) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := takeSlotTx(ctx, tx, g.TrainerID, g.SessionDate, models.TimeRange{Start: g.StartTime, End: g.EndTime}); err != nil {
		return err
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO group_sessions (
			trainer_id, session_date, start_time, end_time, location,
			max_players, current_players, price_per_player_cents, status
		) VALUES ($1, $2::date, $3, $4, $5, $6, 0, $7, $8)
		RETURNING id, created_at`,
		g.TrainerID, g.SessionDate.Format(models.DateLayout), g.StartTime, g.EndTime, g.Location,
		g.MaxPlayers, g.PricePerPlayerCents, g.Status,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID returns a group session or nil
func (r *GroupSessionRepository) GetByID(ctx context.Context, id int64) (*models.GroupSession, error) {
	var g models.GroupSession
	err := r.db.GetContext(ctx, &g, `SELECT `+groupSessionColumns+` FROM group_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group session: %w", err)
	}
	return &g, nil
}

// Join takes one seat and inserts the participant booking in the same
// transaction. A full or closed session yields a ConflictError.
func (r *GroupSessionRepository) Join(ctx context.Context, sessionID int64, b *models.Booking) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.GetContext(ctx, &current, `
		UPDATE group_sessions
		SET current_players = current_players + 1
		WHERE id = $1 AND status = 'open' AND current_players < max_players
		RETURNING current_players`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewConflictError("group_full", "This group session is full")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reserve group seat: %w", err)
	}

	b.GroupSessionID = &sessionID
	if err := insertBookingTx(ctx, tx, b); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return current, nil
}

// Leave cancels a participant booking and gives its seat back.
// It returns false if the booking was not an active participant of the session.
func (r *GroupSessionRepository) Leave(ctx context.Context, sessionID, bookingID int64, reason string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = 'cancelled', cancel_reason = $1, updated_at = NOW()
		WHERE id = $2 AND group_session_id = $3 AND status IN ('pending', 'confirmed')`,
		reason, bookingID, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel group booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE group_sessions SET current_players = current_players - 1
		WHERE id = $1 AND current_players > 0`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to release group seat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
