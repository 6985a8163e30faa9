package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/pkg/crypto"
)

const (
	csrfTokenLength = 32
	CSRFCookieName  = "csrf_token"
	CSRFHeaderName  = "X-CSRF-Token"
	csrfTokenExpiry = 24 * time.Hour
)

type csrfToken struct {
	Token     string
	ExpiresAt time.Time
}

// CSRFStore holds one CSRF token per cookie session, in memory.
type CSRFStore struct {
	tokens   map[string]csrfToken
	mu       sync.RWMutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewCSRFStore() *CSRFStore {
	store := &CSRFStore{
		tokens: make(map[string]csrfToken),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go store.cleanup(time.Hour)
	return store
}

func (s *CSRFStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *CSRFStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for sessionID, token := range s.tokens {
				if now.After(token.ExpiresAt) {
					delete(s.tokens, sessionID)
				}
			}
			s.mu.Unlock()
		}
	}
}

// GetOrCreate returns the session's token, minting a new one when absent or
// expired.
func (s *CSRFStore) GetOrCreate(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, exists := s.tokens[sessionID]; exists && s.now().Before(token.ExpiresAt) {
		return token.Token, nil
	}

	token, err := crypto.RandomToken(csrfTokenLength)
	if err != nil {
		return "", err
	}
	s.tokens[sessionID] = csrfToken{Token: token, ExpiresAt: s.now().Add(csrfTokenExpiry)}
	return token, nil
}

// Validate compares providedToken with the session's token in constant time.
func (s *CSRFStore) Validate(sessionID, providedToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.tokens[sessionID]
	if !exists || s.now().After(token.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token.Token), []byte(providedToken)) == 1
}

// CSRF protects cookie-authenticated requests. Safe methods receive a token
// cookie; unsafe methods must echo it in the X-CSRF-Token header. Requests
// carrying their credentials in a header are not exposed to CSRF and pass.
func CSRF(store *CSRFStore, secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := getSessionID(r)

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				if sessionID != "" {
					ensureCSRFCookie(w, r, store, sessionID, secureCookies)
				}
				next.ServeHTTP(w, r)
				return
			}

			if sessionID == "" || r.Header.Get("Authorization") != "" || r.Header.Get("X-Auth-Token") != "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(CSRFHeaderName)
			if provided == "" {
				respond.Message(w, http.StatusForbidden, apperr.KindAuthorizationDenied, "CSRF token missing")
				return
			}
			if !store.Validate(sessionID, provided) {
				respond.Message(w, http.StatusForbidden, apperr.KindAuthorizationDenied, "Invalid CSRF token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, store *CSRFStore, sessionID string, secure bool) {
	// A rotated access cookie or a restart leaves a stale token behind.
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && store.Validate(sessionID, cookie.Value) {
		return
	}

	token, err := store.GetOrCreate(sessionID)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // read by the browser client and echoed in the header
		Secure:   secure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfTokenExpiry.Seconds()),
	})
}

// getSessionID derives a session identifier from the access token cookie.
func getSessionID(r *http.Request) string {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || cookie.Value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cookie.Value))
	return hex.EncodeToString(sum[:16])
}
