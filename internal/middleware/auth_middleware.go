package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/pkg/jwt"
)

// UserContextKey is the gin context key holding the authenticated UserContext
const UserContextKey = "user_context"

// UserContext is the caller identity taken from a validated access token
type UserContext struct {
	AccountID int64
	Email     string
	Roles     []string
}

// AuthMiddleware rejects requests without a valid bearer access token
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>")
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			if jwt.IsExpired(err) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid or malformed token")
			return
		}

		c.Set(UserContextKey, UserContext{
			AccountID: claims.AccountID,
			Email:     claims.Email,
			Roles:     claims.Roles,
		})
		c.Next()
	}
}

// OptionalAuth attaches the caller identity when a valid token is sent and
// lets anonymous requests through. A token that is present but invalid is
// still rejected so a client never silently books as a guest.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	required := AuthMiddleware(jwtService)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// RequireRole allows the request only when the caller has one of the roles.
// Must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "Authentication required")
			return
		}

		for _, required := range roles {
			for _, role := range userCtx.Roles {
				if role == required {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"code":    "INSUFFICIENT_PERMISSIONS",
			"message": "You do not have permission to access this resource",
		})
		c.Abort()
	}
}

// GetUserContext returns the authenticated caller, if any
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}
	return userCtx, true
}

// MustGetUserContext is GetUserContext for routes behind AuthMiddleware
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found: route is missing AuthMiddleware")
	}
	return userCtx
}

// Actor converts the caller identity into the services' actor. Anonymous
// requests yield nil.
func Actor(c *gin.Context) *models.Actor {
	userCtx, exists := GetUserContext(c)
	if !exists {
		return nil
	}
	return &models.Actor{
		AccountID: userCtx.AccountID,
		Email:     userCtx.Email,
		Roles:     userCtx.Roles,
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"code":    code,
		"message": message,
	})
	c.Abort()
}
