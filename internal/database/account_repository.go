package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coachconnect/booking-engine/internal/models"
)

// AccountRepository handles accounts, parent profiles and players
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, password_hash, display_name, is_guest, roles, created_at, updated_at`

// GetByEmail returns the account with the (case-insensitive) email or nil
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return &account, nil
}

// GetByID returns an account or nil
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// CreateIfAbsent inserts the account unless the email is already taken.
// On a race with another insert it loads the winning row and returns created=false.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, account *models.Account) (bool, error) {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, is_guest, roles)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at, updated_at`,
		account.Email, account.PasswordHash, account.DisplayName, account.IsGuest, account.Roles,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to create account: %w", err)
	}

	existing, err := r.GetByEmail(ctx, account.Email)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("account %s vanished after conflict", account.Email)
	}
	*account = *existing
	return false, nil
}

// ============================================================================
// PARENTS
// ============================================================================

const parentColumns = `id, account_id, first_name, last_name, phone, created_at`

// GetParentByAccountID returns the parent profile of an account or nil
func (r *AccountRepository) GetParentByAccountID(ctx context.Context, accountID int64) (*models.Parent, error) {
	var parent models.Parent
	err := r.db.GetContext(ctx, &parent, `SELECT `+parentColumns+` FROM parents WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parent: %w", err)
	}
	return &parent, nil
}

// CreateParentIfAbsent attaches a parent profile to an account, reusing an existing one
func (r *AccountRepository) CreateParentIfAbsent(ctx context.Context, parent *models.Parent) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO parents (account_id, first_name, last_name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING
		RETURNING id, created_at`,
		parent.AccountID, parent.FirstName, parent.LastName, parent.Phone,
	).Scan(&parent.ID, &parent.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to create parent: %w", err)
	}

	existing, err := r.GetParentByAccountID(ctx, parent.AccountID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("parent for account %d vanished after conflict", parent.AccountID)
	}
	*parent = *existing
	return nil
}

// ============================================================================
// PLAYERS
// ============================================================================

const playerColumns = `id, parent_id, first_name, last_name, age, skill_level, created_at`

// GetPlayer returns a player or nil
func (r *AccountRepository) GetPlayer(ctx context.Context, id int64) (*models.Player, error) {
	var player models.Player
	err := r.db.GetContext(ctx, &player, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &player, nil
}

// FindPlayerByName returns a parent's player with the given name or nil
func (r *AccountRepository) FindPlayerByName(ctx context.Context, parentID int64, firstName, lastName string) (*models.Player, error) {
	var player models.Player
	err := r.db.GetContext(ctx, &player, `
		SELECT `+playerColumns+` FROM players
		WHERE parent_id = $1 AND lower(first_name) = lower($2) AND lower(last_name) = lower($3)
		ORDER BY id LIMIT 1`, parentID, firstName, lastName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return &player, nil
}

// CreatePlayer adds a player to a parent. The parent row is locked while the
// player count is checked so the cap holds under concurrent requests.
func (r *AccountRepository) CreatePlayer(ctx context.Context, player *models.Player) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var parentID int64
	err = tx.GetContext(ctx, &parentID, `SELECT id FROM parents WHERE id = $1 FOR UPDATE`, player.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewNotFoundError("parent_not_found", "Parent profile not found")
	}
	if err != nil {
		return fmt.Errorf("failed to lock parent: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM players WHERE parent_id = $1`, player.ParentID); err != nil {
		return fmt.Errorf("failed to count players: %w", err)
	}
	if count >= models.MaxPlayersPerParent {
		return models.NewConflictError("player_limit_reached",
			fmt.Sprintf("A parent can register at most %d players", models.MaxPlayersPerParent))
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO players (parent_id, first_name, last_name, age, skill_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		player.ParentID, player.FirstName, player.LastName, player.Age, player.SkillLevel,
	).Scan(&player.ID, &player.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
