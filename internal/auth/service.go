package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/metrics"
	"github.com/hugh/insightforge/internal/tenancy"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = apperr.New(apperr.KindInvalidCredentials, "Invalid email or password")
	ErrInactiveUser       = apperr.New(apperr.KindInactiveAccount, "User account is inactive")
	ErrUserNotFound       = apperr.NotFound("User", "")
)

type Service struct {
	db     *gorm.DB
	hasher *Hasher
	tokens *JWTService
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, hasher *Hasher, tokens *JWTService, logger *slog.Logger) *Service {
	return &Service{db: db, hasher: hasher, tokens: tokens, logger: logger, now: time.Now}
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
	OrgName  string // optional: creates an organization owned by the new user
}

type LoginInput struct {
	Email    string
	Password string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // access token lifetime in seconds
}

type AuthResponse struct {
	User         *models.User         `json:"user"`
	Organization *models.Organization `json:"organization,omitempty"`
	Tokens       TokenPair            `json:"tokens"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := models.NormalizeEmail(input.Email)

	exists, err := s.emailTaken(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.AlreadyExists("User", "email", email)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: &hash,
		FullName:     strings.TrimSpace(input.FullName),
		IsActive:     true,
	}

	var org *models.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			// Lost a race with a concurrent registration.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.AlreadyExists("User", "email", email)
			}
			return err
		}
		if strings.TrimSpace(input.OrgName) == "" {
			return nil
		}
		var err error
		org, err = tenancy.CreateWithOwner(ctx, tx, tenancy.CreateOrganizationInput{Name: input.OrgName}, user.ID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	tokens, err := s.IssueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "with_org", org != nil)
	return &AuthResponse{User: user, Organization: org, Tokens: *tokens}, nil
}

// Login checks a password and issues a token pair. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(input.Email)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.LoginAttemptsTotal.WithLabelValues("password", metrics.ResultFailure).Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.HasPassword() {
		metrics.LoginAttemptsTotal.WithLabelValues("password", metrics.ResultFailure).Inc()
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(input.Password, *user.PasswordHash)
	if err != nil {
		metrics.CorruptCredentialsTotal.Inc()
		s.logger.Error("stored password hash is corrupt", "user_id", user.ID, "error", err)
		return nil, err
	}
	if !ok {
		metrics.LoginAttemptsTotal.WithLabelValues("password", metrics.ResultFailure).Inc()
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		metrics.LoginAttemptsTotal.WithLabelValues("password", metrics.ResultFailure).Inc()
		return nil, ErrInactiveUser
	}

	updates := map[string]any{"last_login_at": s.now().UTC()}
	if s.hasher.NeedsRehash(*user.PasswordHash) {
		if upgraded, err := s.hasher.Hash(input.Password); err == nil {
			updates["password_hash"] = upgraded
			user.PasswordHash = &upgraded
		} else {
			s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		}
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}

	tokens, err := s.IssueTokens(&user)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("password", metrics.ResultSuccess).Inc()
	return &AuthResponse{User: &user, Tokens: *tokens}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The old refresh
// token stays valid until it expires; there is no server-side session to
// revoke.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	tokens, err := s.IssueTokens(user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: user, Tokens: *tokens}, nil
}

// IssueTokens returns a fresh access/refresh pair for user.
func (s *Service) IssueTokens(user *models.User) (*TokenPair, error) {
	subject := user.ID.String()

	access, err := s.tokens.IssueAccessToken(subject)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(subject)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
	}, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ChangePassword replaces the password of userID after checking the current
// one. OAuth-only accounts have no current password and may set one directly.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() {
		ok, err := s.hasher.Verify(current, *user.PasswordHash)
		if err != nil {
			metrics.CorruptCredentialsTotal.Inc()
			s.logger.Error("stored password hash is corrupt", "user_id", user.ID, "error", err)
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", hash).Error; err != nil {
		return err
	}

	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// WithClock returns a copy of the service that reads the current time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Service) emailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().
		Model(&models.User{}).
		Where("email = ?", email).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
