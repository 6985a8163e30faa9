package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeOrgs struct {
	org        *models.Organization
	membership *models.Membership
	authErr    error
	gotAction  authz.Action
}

func (f *fakeOrgs) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	if f.org == nil || f.org.Slug != slug {
		return nil, apperr.NotFound("Organization", slug)
	}
	return f.org, nil
}

func (f *fakeOrgs) Authorize(ctx context.Context, userID, orgID uuid.UUID, action authz.Action) (*models.Membership, error) {
	f.gotAction = action
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.membership, nil
}

func serveOrgRoute(orgs OrgAuthorizer, action authz.Action, path string, userID uuid.UUID) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.With(RequireOrgAction(orgs, action, discard)).Get("/organizations/{slug}", func(w http.ResponseWriter, r *http.Request) {
		org := GetOrganization(r.Context())
		m := GetMembership(r.Context())
		_, _ = w.Write([]byte(org.Slug + ":" + string(m.Role)))
	})

	req := httptest.NewRequest("GET", path, nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireOrgAction(t *testing.T) {
	org := &models.Organization{Slug: "acme"}
	org.ID = uuid.New()
	orgs := &fakeOrgs{org: org, membership: &models.Membership{Role: authz.RoleAnalyst, IsActive: true}}

	rec := serveOrgRoute(orgs, authz.ActionUploadData, "/organizations/acme", uuid.New())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme:analyst", rec.Body.String())
	assert.Equal(t, authz.ActionUploadData, orgs.gotAction)
}

func TestRequireOrgAction_Denied(t *testing.T) {
	org := &models.Organization{Slug: "acme"}
	orgs := &fakeOrgs{org: org, authErr: authz.ErrInsufficientRole}

	rec := serveOrgRoute(orgs, authz.ActionManageMembers, "/organizations/acme", uuid.New())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization_denied", decodeError(t, rec).Type)
}

func TestRequireOrgAction_UnknownOrganization(t *testing.T) {
	rec := serveOrgRoute(&fakeOrgs{}, authz.ActionView, "/organizations/missing", uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, 60)
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, remaining, _ := rl.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, remaining, _ = rl.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _, reset := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, now.Add(time.Minute), reset)

	ok, _, _ = rl.Allow("b")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(61 * time.Second)
	ok, _, _ = rl.Allow("a")
	assert.True(t, ok, "window slides")
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 60)
	defer rl.Stop()

	handler := RateLimit(rl, ByIP)(okHandler(t, uuid.Nil))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(req))
}

func TestByUser(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1", ByUser(req))

	userID := uuid.New()
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
	assert.Equal(t, "user:"+userID.String(), ByUser(req))
}

type fakeLoginLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (f *fakeLoginLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	f.keys = append(f.keys, key)
	return f.allowed, 30 * time.Second, f.err
}

func TestLoginThrottle(t *testing.T) {
	body := []byte(`{"email":" Alice@Example.com ","password":"x"}`)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, got, "body is restored for the handler")
		w.WriteHeader(http.StatusOK)
	})

	newReq := func() *http.Request {
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "192.0.2.1:1234"
		return req
	}

	t.Run("allowed", func(t *testing.T) {
		limiter := &fakeLoginLimiter{allowed: true}
		rec := httptest.NewRecorder()
		LoginThrottle(limiter, discard)(next).ServeHTTP(rec, newReq())

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"192.0.2.1|alice@example.com"}, limiter.keys)
	})

	t.Run("throttled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		LoginThrottle(&fakeLoginLimiter{allowed: false}, discard)(next).ServeHTTP(rec, newReq())

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "31", rec.Header().Get("Retry-After"))
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		rec := httptest.NewRecorder()
		LoginThrottle(&fakeLoginLimiter{err: errors.New("redis down")}, discard)(next).ServeHTTP(rec, newReq())

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCSRF(t *testing.T) {
	store := NewCSRFStore()
	defer store.Stop()

	handler := CSRF(store, false)(okHandler(t, uuid.Nil))
	session := &http.Cookie{Name: AccessTokenCookie, Value: "cookie-session-token"}

	// A safe request from a cookie session receives the token.
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var csrfCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			csrfCookie = c
		}
	}
	require.NotNil(t, csrfCookie)

	// Unsafe request without the header is rejected.
	req = httptest.NewRequest("POST", "/api/v1/organizations", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A wrong token is rejected.
	req = httptest.NewRequest("POST", "/api/v1/organizations", nil)
	req.AddCookie(session)
	req.Header.Set(CSRFHeaderName, "forged")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The issued token passes.
	req = httptest.NewRequest("POST", "/api/v1/organizations", nil)
	req.AddCookie(session)
	req.Header.Set(CSRFHeaderName, csrfCookie.Value)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Header-authenticated requests are not subject to CSRF.
	req = httptest.NewRequest("POST", "/api/v1/organizations", nil)
	req.AddCookie(session)
	req.Header.Set("Authorization", "Bearer x")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func csrfCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			return c
		}
	}
	return nil
}

func TestCSRF_ReissuesTokenAfterSessionRotation(t *testing.T) {
	store := NewCSRFStore()
	defer store.Stop()

	handler := CSRF(store, false)(okHandler(t, uuid.Nil))
	oldSession := &http.Cookie{Name: AccessTokenCookie, Value: "access-before-refresh"}
	newSession := &http.Cookie{Name: AccessTokenCookie, Value: "access-after-refresh"}

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(oldSession)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	oldToken := csrfCookieFrom(rec)
	require.NotNil(t, oldToken)

	// The same session keeping its valid token is not reissued one.
	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(oldSession)
	req.AddCookie(oldToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Nil(t, csrfCookieFrom(rec))

	// After a refresh the browser still sends the old CSRF cookie.
	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(newSession)
	req.AddCookie(oldToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	newToken := csrfCookieFrom(rec)
	require.NotNil(t, newToken)
	assert.NotEqual(t, oldToken.Value, newToken.Value)

	req = httptest.NewRequest("POST", "/api/v1/organizations", nil)
	req.AddCookie(newSession)
	req.AddCookie(newToken)
	req.Header.Set(CSRFHeaderName, newToken.Value)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A restarted server has no record of the token and issues a new one.
	restarted := NewCSRFStore()
	defer restarted.Stop()
	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(newSession)
	req.AddCookie(newToken)
	rec = httptest.NewRecorder()
	CSRF(restarted, false)(okHandler(t, uuid.Nil)).ServeHTTP(rec, req)
	assert.NotNil(t, csrfCookieFrom(rec))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal", resp.Type)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestLogging_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(Logging(logger))
	r.Get("/organizations/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/organizations/acme", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"route":"/organizations/{slug}"`)
	assert.Contains(t, buf.String(), `"status":418`)
}
