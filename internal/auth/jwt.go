package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hugh/insightforge/internal/apperr"
)

var (
	ErrTokenInvalid = apperr.New(apperr.KindTokenInvalid, "Invalid token")
	ErrTokenExpired = apperr.New(apperr.KindTokenExpired, "Token has expired")
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Reserved claims are always set by the service and cannot be overridden by
// caller supplied extras.
var reservedClaims = map[string]bool{
	"sub":  true,
	"iat":  true,
	"exp":  true,
	"type": true,
}

// Claims is the decoded payload of a validated token.
type Claims struct {
	Subject   string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

type TokenConfig struct {
	Secret     string
	Algorithm  string // HS256, HS384 or HS512
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// JWTService issues and validates HMAC-signed tokens. It holds no mutable
// state and is safe for concurrent use.
type JWTService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewJWTService(cfg TokenConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	return &JWTService{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the service that reads the current time from now.
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *JWTService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

type issueOptions struct {
	ttl    *time.Duration
	claims map[string]any
}

type TokenOption func(*issueOptions)

// WithTTL overrides the default lifetime. Zero or negative values produce a
// token that is already expired.
func WithTTL(ttl time.Duration) TokenOption {
	return func(o *issueOptions) { o.ttl = &ttl }
}

// WithClaims adds extra claims to an access token. Token payloads are only
// encoded, not encrypted; never pass anything unsafe to disclose.
func WithClaims(claims map[string]any) TokenOption {
	return func(o *issueOptions) { o.claims = claims }
}

func (s *JWTService) IssueAccessToken(subject string, opts ...TokenOption) (string, error) {
	o := issueOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	ttl := s.accessTTL
	if o.ttl != nil {
		ttl = *o.ttl
	}
	return s.sign(subject, TokenTypeAccess, ttl, o.claims)
}

// IssueRefreshToken issues a long-lived token carrying only the subject.
func (s *JWTService) IssueRefreshToken(subject string) (string, error) {
	return s.sign(subject, TokenTypeRefresh, s.refreshTTL, nil)
}

func (s *JWTService) sign(subject string, typ TokenType, ttl time.Duration, extra map[string]any) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}

	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if reservedClaims[k] {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	claims["type"] = string(typ)

	return jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
}

// Validate verifies the signature and expiry of tokenString. It returns
// ErrTokenExpired when exp has passed and ErrTokenInvalid for every other
// failure: bad signature, malformed structure or unexpected algorithm.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.KindTokenExpired, ErrTokenExpired.Message, err)
		}
		return nil, apperr.Wrap(apperr.KindTokenInvalid, ErrTokenInvalid.Message, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claimsFromMap(mapClaims)
}

// ValidateAccess validates tokenString and requires an access token.
func (s *JWTService) ValidateAccess(tokenString string) (*Claims, error) {
	return s.validateType(tokenString, TokenTypeAccess)
}

// ValidateRefresh validates tokenString and requires a refresh token.
func (s *JWTService) ValidateRefresh(tokenString string) (*Claims, error) {
	return s.validateType(tokenString, TokenTypeRefresh)
}

func (s *JWTService) validateType(tokenString string, want TokenType) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	sub, err := m.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrTokenInvalid
	}
	iat, err := m.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, ErrTokenInvalid
	}
	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrTokenInvalid
	}
	typ, _ := m["type"].(string)

	claims := &Claims{
		Subject:   sub,
		Type:      TokenType(typ),
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}
	for k, v := range m {
		if reservedClaims[k] {
			continue
		}
		if claims.Extra == nil {
			claims.Extra = make(map[string]any)
		}
		claims.Extra[k] = v
	}
	return claims, nil
}
