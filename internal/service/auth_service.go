package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/forms-backend/internal/model"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// AdminLookup reports whether a user administers forms.
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Claims carries the chat identity the token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar,omitempty"`
	Email         *string `json:"email,omitempty"`
	Verified      *bool   `json:"verified,omitempty"`
}

// AuthService verifies caller tokens and resolves them to identities.
type AuthService struct {
	secret []byte
	admins AdminLookup
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string, admins AdminLookup) *AuthService {
	return &AuthService{secret: []byte(secret), admins: admins}
}

// GenerateToken signs a token for user valid for ttl.
func (s *AuthService) GenerateToken(user *model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:      user.Username,
		Discriminator: user.Discriminator,
		Avatar:        user.Avatar,
		Email:         user.Email,
		Verified:      user.Verified,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identity turns verified claims into the identity snapshot used by the
// submission path, including the admin flag.
func (s *AuthService) Identity(ctx context.Context, claims *Claims) (*model.Identity, error) {
	admin, err := s.admins.IsAdmin(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("check admin: %w", err)
	}
	return &model.Identity{
		ID:            claims.Subject,
		Username:      claims.Username,
		Discriminator: claims.Discriminator,
		Avatar:        claims.Avatar,
		Email:         claims.Email,
		Verified:      claims.Verified,
		Admin:         admin,
	}, nil
}
