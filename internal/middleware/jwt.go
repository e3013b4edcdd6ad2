package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/response"
	"github.com/stemsi/forms-backend/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
	// ContextKeyIdentity is the Gin context key for the resolved caller.
	ContextKeyIdentity = "identity"
)

// OptionalJWT resolves the caller when a token is presented and lets
// anonymous requests through. A presented but invalid token is rejected.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.Next()
			return
		}
		if !authenticate(c, authService, tokenStr) {
			return
		}
		c.Next()
	}
}

// RequireAdminJWT validates a JWT from the Authorization header or the
// ?token= query parameter and requires an admin caller. The query fallback
// serves WebSocket upgrades, which cannot send headers from browsers.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !authenticate(c, authService, tokenStr) {
			return
		}

		if id := GetIdentity(c); id == nil || !id.Admin {
			response.AbortFail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
			return
		}
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetIdentity retrieves the authenticated caller, or nil for anonymous
// requests.
func GetIdentity(c *gin.Context) *model.Identity {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil
	}
	id, ok := val.(*model.Identity)
	if !ok {
		return nil
	}
	return id
}

// authenticate validates tokenStr and stores claims and identity on c. It
// aborts the request and returns false on failure.
func authenticate(c *gin.Context, authService *service.AuthService, tokenStr string) bool {
	claims, err := authService.ValidateToken(tokenStr)
	if err != nil {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return false
	}

	identity, err := authService.Identity(c.Request.Context(), claims)
	if err != nil {
		response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		return false
	}

	c.Set(ContextKeyClaims, claims)
	c.Set(ContextKeyIdentity, identity)
	return true
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
