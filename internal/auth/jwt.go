package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

var (
	ErrMissingToken     = errors.New("missing token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingSubject   = errors.New("token has no user id")
	ErrUnknownUser      = errors.New("token names an unknown user")
	ErrDirectoryFailure = errors.New("user directory unavailable")
)

// Claims is the token body issued by the application that owns the users.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies HS256 bearer tokens and returns the user they name.
// With a directory configured the stored record wins over token claims.
type Resolver struct {
	secret    []byte
	directory interfaces.UserDirectory
	logger    *zap.Logger
}

// NewResolver builds a resolver. directory may be nil.
func NewResolver(secret string, directory interfaces.UserDirectory, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{secret: []byte(secret), directory: directory, logger: logger}
}

// Resolve implements interfaces.IdentityResolver. Every credential problem
// wraps types.ErrAuthenticationFailed.
func (r *Resolver) Resolve(ctx context.Context, token string) (*types.User, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, ErrMissingToken)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		r.logger.Debug("Token rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, ErrInvalidToken)
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, ErrMissingSubject)
	}

	if r.directory == nil {
		return &types.User{ID: userID, Name: claims.Name, Email: claims.Email, Role: claims.Role}, nil
	}

	user, err := r.directory.GetUser(ctx, userID)
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound):
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, ErrUnknownUser)
	case err != nil:
		r.logger.Error("User directory lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDirectoryFailure, err)
	}
	return user, nil
}

// IssueToken signs an HS256 token for user valid for ttl.
func IssueToken(secret string, user types.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
