package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	AccessToken TokenType = "access"
)

// Claims represents the JWT claims structure
type Claims struct {
	AccountID int64     `json:"account_id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Service handles JWT operations
type Service struct {
	secret            string
	issuer            string
	accessTokenExpiry time.Duration
	now               func() time.Time
}

// NewService creates a new JWT service
func NewService(secret, issuer string, accessExpiry time.Duration) *Service {
	return &Service{
		secret:            secret,
		issuer:            issuer,
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
}

// GenerateAccessToken generates a new access token
func (s *Service) GenerateAccessToken(accountID int64, email string, roles []string) (string, error) {
	now := s.now()
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Roles:     roles,
		TokenType: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(accountID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken validates and parses an access token
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.TokenType != AccessToken {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", AccessToken, claims.TokenType)
	}
	if claims.AccountID <= 0 {
		return nil, fmt.Errorf("token has no account")
	}

	return claims, nil
}

// IsExpired reports whether a validation error was caused by an expired token
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// AccessTokenExpiry returns the configured access token lifetime
func (s *Service) AccessTokenExpiry() time.Duration {
	return s.accessTokenExpiry
}
