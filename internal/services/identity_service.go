package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/internal/utils"
	"github.com/coachconnect/booking-engine/pkg/validator"
)

// IdentityService resolves the account, parent and player behind a booking,
// creating guest identities on first use.
type IdentityService struct {
	accounts   AccountStore
	phones     *validator.PhoneValidator
	bcryptCost int
	logger     *logrus.Logger
}

// NewIdentityService creates a new IdentityService
func NewIdentityService(accounts AccountStore, phones *validator.PhoneValidator, bcryptCost int, logger *logrus.Logger) *IdentityService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &IdentityService{accounts: accounts, phones: phones, bcryptCost: bcryptCost, logger: logger}
}

// ResolveOrCreate returns the account registered under the email, creating
// one when none exists. Guest accounts get an unusable random password.
// Two concurrent calls for the same email end with one account.
func (s *IdentityService) ResolveOrCreate(ctx context.Context, fields models.ProfileFields) (*models.Account, bool, error) {
	if err := models.Validate(fields); err != nil {
		return nil, false, err
	}
	if _, err := s.contactPhone(fields.Phone); err != nil {
		return nil, false, err
	}
	email := strings.ToLower(strings.TrimSpace(fields.Email))

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, datastoreError(err)
	}
	if existing != nil {
		return existing, false, nil
	}

	secret := fields.Password
	isGuest := fields.Mode != models.IdentityFull
	if isGuest {
		if secret, err = utils.GenerateSecret(32); err != nil {
			return nil, false, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  fields.DisplayName(),
		IsGuest:      isGuest,
		Roles:        models.StringArray{models.RoleParent},
	}
	created, err := s.accounts.CreateIfAbsent(ctx, account)
	if err != nil {
		return nil, false, datastoreError(err)
	}
	if created {
		s.logger.WithFields(logrus.Fields{
			"account_id": account.ID,
			"guest":      isGuest,
		}).Info("Account created")
	}
	return account, created, nil
}

// Authenticate checks an email and password. Guest accounts cannot sign in.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, datastoreError(err)
	}
	if account == nil || account.IsGuest ||
		bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, models.NewUnauthorizedError("invalid_credentials", "Email or password is incorrect")
	}
	return account, nil
}

// EnsureParent returns the parent profile of the account, creating it from
// fields when missing
func (s *IdentityService) EnsureParent(ctx context.Context, account *models.Account, fields models.ProfileFields) (*models.Parent, error) {
	parent, err := s.accounts.GetParentByAccountID(ctx, account.ID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if parent != nil {
		return parent, nil
	}

	phone, err := s.contactPhone(fields.Phone)
	if err != nil {
		return nil, err
	}
	first, last := fields.FirstName, fields.LastName
	if first == "" {
		first, last = splitName(account.DisplayName)
	}
	parent = &models.Parent{
		AccountID: account.ID,
		FirstName: first,
		LastName:  last,
		Phone:     phone,
	}
	if err := s.accounts.CreateParentIfAbsent(ctx, parent); err != nil {
		return nil, datastoreError(err)
	}
	return parent, nil
}

// LookupParent returns the parent profile of an account or nil
func (s *IdentityService) LookupParent(ctx context.Context, accountID int64) (*models.Parent, error) {
	parent, err := s.accounts.GetParentByAccountID(ctx, accountID)
	if err != nil {
		return nil, datastoreError(err)
	}
	return parent, nil
}

// ParentForActor returns the parent profile of an authenticated caller,
// creating one for parent accounts that have none yet
func (s *IdentityService) ParentForActor(ctx context.Context, actor *models.Actor) (*models.Parent, error) {
	if actor == nil {
		return nil, models.NewUnauthorizedError("authentication_required", "Sign in to continue")
	}
	parent, err := s.accounts.GetParentByAccountID(ctx, actor.AccountID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if parent != nil {
		return parent, nil
	}

	account, err := s.accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if account == nil || !account.Roles.Contains(models.RoleParent) {
		return nil, models.NewUnauthorizedError("not_a_parent", "Only parent accounts can book sessions")
	}
	return s.EnsureParent(ctx, account, models.ProfileFields{})
}

// ResolvePlayer returns the parent's player matching the name, creating it when absent
func (s *IdentityService) ResolvePlayer(ctx context.Context, parent *models.Parent, fields models.PlayerFields) (*models.Player, error) {
	if err := models.Validate(fields); err != nil {
		return nil, err
	}
	player, err := s.accounts.FindPlayerByName(ctx, parent.ID, fields.FirstName, fields.LastName)
	if err != nil {
		return nil, datastoreError(err)
	}
	if player != nil {
		return player, nil
	}

	player = &models.Player{
		ParentID:   parent.ID,
		FirstName:  strings.TrimSpace(fields.FirstName),
		LastName:   strings.TrimSpace(fields.LastName),
		Age:        fields.Age,
		SkillLevel: fields.SkillLevel,
	}
	if err := s.accounts.CreatePlayer(ctx, player); err != nil {
		return nil, datastoreError(err)
	}
	return player, nil
}

// AuthorizePlayer loads a player and checks that it belongs to parent
func (s *IdentityService) AuthorizePlayer(ctx context.Context, parent *models.Parent, playerID int64) (*models.Player, error) {
	player, err := s.accounts.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if player == nil {
		return nil, models.NewNotFoundError("player_not_found", "Player not found")
	}
	if player.ParentID != parent.ID {
		return nil, models.NewUnauthorizedError("player_not_owned", "This player does not belong to your account")
	}
	return player, nil
}

// contactPhone normalizes an optional phone number to E.164
func (s *IdentityService) contactPhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" || s.phones == nil {
		return strings.TrimSpace(raw), nil
	}
	phone, err := s.phones.Validate(raw)
	if err != nil {
		return "", models.NewValidationError("invalid_phone", err.Error())
	}
	return phone, nil
}

func splitName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
