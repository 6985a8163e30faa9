package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/metrics"
	"github.com/hugh/insightforge/pkg/config"
	"github.com/hugh/insightforge/pkg/crypto"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

const ProviderGoogle = "google"

var ErrOAuthFailed = apperr.New(apperr.KindInvalidCredentials, "OAuth sign-in failed")

// OAuthIdentity is the profile a provider reports for a signed-in user.
type OAuthIdentity struct {
	Provider      string
	ProviderID    string
	Email         string
	Name          string
	EmailVerified bool
}

// UserInfoFetcher loads the provider profile for an access token.
type UserInfoFetcher interface {
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthIdentity, error)
}

// GoogleOAuth drives the Google authorization code flow and links the
// resulting identity to a local user.
type GoogleOAuth struct {
	config    *oauth2.Config
	fetcher   UserInfoFetcher
	encryptor *crypto.Encryptor
	service   *Service
}

type GoogleOption func(*GoogleOAuth)

// WithEndpoint overrides Google's authorization and token endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) GoogleOption {
	return func(g *GoogleOAuth) { g.config.Endpoint = endpoint }
}

func WithUserInfoFetcher(f UserInfoFetcher) GoogleOption {
	return func(g *GoogleOAuth) { g.fetcher = f }
}

func NewGoogleOAuth(cfg *config.OAuthConfig, service *Service, encryptor *crypto.Encryptor, opts ...GoogleOption) *GoogleOAuth {
	g := &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				googleoauth2.OpenIDScope,
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
			},
		},
		encryptor: encryptor,
		service:   service,
	}
	g.fetcher = &googleUserInfo{config: g.config}

	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthCodeURL returns the consent page URL carrying state.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Complete exchanges code for a provider token, loads the profile and signs
// the matching local user in.
func (g *GoogleOAuth) Complete(ctx context.Context, code string) (*AuthResponse, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(ProviderGoogle, metrics.ResultFailure).Inc()
		return nil, apperr.Wrap(apperr.KindInvalidCredentials, ErrOAuthFailed.Message, fmt.Errorf("exchanging code: %w", err))
	}

	identity, err := g.fetcher.FetchUserInfo(ctx, token)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(ProviderGoogle, metrics.ResultFailure).Inc()
		return nil, apperr.Wrap(apperr.KindInvalidCredentials, ErrOAuthFailed.Message, fmt.Errorf("fetching user info: %w", err))
	}

	sealed, err := g.encryptor.SealJSON(token)
	if err != nil {
		return nil, fmt.Errorf("sealing provider token: %w", err)
	}

	resp, err := g.service.LoginWithOAuth(ctx, identity, sealed)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(ProviderGoogle, metrics.ResultFailure).Inc()
		return nil, err
	}
	metrics.LoginAttemptsTotal.WithLabelValues(ProviderGoogle, metrics.ResultSuccess).Inc()
	return resp, nil
}

type googleUserInfo struct {
	config *oauth2.Config
}

func (f *googleUserInfo) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthIdentity, error) {
	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(f.config.TokenSource(ctx, token)))
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	return &OAuthIdentity{
		Provider:      ProviderGoogle,
		ProviderID:    info.Id,
		Email:         info.Email,
		Name:          info.Name,
		EmailVerified: info.VerifiedEmail != nil && *info.VerifiedEmail,
	}, nil
}

// LoginWithOAuth signs in the user linked to identity. A user is matched by
// provider id first, then by verified email (which links the account). When
// neither matches, a password-less user is created.
func (s *Service) LoginWithOAuth(ctx context.Context, identity *OAuthIdentity, sealedToken []byte) (*AuthResponse, error) {
	if identity == nil || identity.ProviderID == "" || identity.Email == "" {
		return nil, ErrOAuthFailed
	}
	email := models.NormalizeEmail(identity.Email)

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("oauth_provider = ? AND oauth_id = ?", identity.Provider, identity.ProviderID).First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Where("email = ?", email).First(&user).Error
		switch {
		case err == nil:
			// Linking an existing account requires the provider to vouch for the email.
			if !identity.EmailVerified {
				return ErrOAuthFailed
			}
			user.OAuthProvider = &identity.Provider
			user.OAuthID = &identity.ProviderID
			return tx.Save(&user).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		user = models.User{
			Email:         email,
			FullName:      strings.TrimSpace(identity.Name),
			IsActive:      true,
			IsVerified:    identity.EmailVerified,
			OAuthProvider: &identity.Provider,
			OAuthID:       &identity.ProviderID,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"oauth_token":   sealedToken,
		"last_login_at": now,
	}).Error; err != nil {
		return nil, err
	}
	user.OAuthToken = sealedToken
	user.LastLoginAt = &now

	tokens, err := s.IssueTokens(&user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("oauth login", "user_id", user.ID, "provider", identity.Provider)
	return &AuthResponse{User: &user, Tokens: *tokens}, nil
}
