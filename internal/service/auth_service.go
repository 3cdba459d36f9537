package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edukita/proctor-backend/internal/config"
)

// TokenType distinguishes exam-taker vs instructor tokens.
type TokenType string

const (
	TokenTypeUser       TokenType = "user"
	TokenTypeInstructor TokenType = "instructor"
)

// PermissionProctoringReview gates instructor access to reports and the
// live monitor.
const PermissionProctoringReview = "proctoring:review"

// Claims extends JWT standard claims with platform-specific fields. Tokens
// are issued by the core platform with the shared secret; this service only
// validates them.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"` // Instructor only
}

// AuthService validates platform JWTs and mints tokens for dev tooling.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// GenerateUserToken creates an exam-taker JWT. Only used by dev tooling and
// tests; production tokens come from the core platform.
func (s *AuthService) GenerateUserToken(userID string) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(userID),
		TokenType:        TokenTypeUser,
		UserID:           userID,
	})
}

// GenerateInstructorToken creates an instructor JWT with permissions embedded.
func (s *AuthService) GenerateInstructorToken(userID string, permissions []string) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(userID),
		TokenType:        TokenTypeInstructor,
		UserID:           userID,
		Permissions:      permissions,
	})
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) registered(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
	}
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}
