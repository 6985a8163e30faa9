package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/database/models"
)

// Authenticator defines the interface for user authentication operations.
type Authenticator interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResponse, error)
	Login(ctx context.Context, input LoginInput) (*AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
}

// TokenValidator is what request authentication needs from the token service.
type TokenValidator interface {
	ValidateAccess(tokenString string) (*Claims, error)
}

// OAuthProvider is a configured social login flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Complete(ctx context.Context, code string) (*AuthResponse, error)
}

// Compile-time interface satisfaction checks
var (
	_ Authenticator   = (*Service)(nil)
	_ TokenValidator  = (*JWTService)(nil)
	_ OAuthProvider   = (*GoogleOAuth)(nil)
	_ UserInfoFetcher = (*googleUserInfo)(nil)
)
