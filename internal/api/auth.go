package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware checks a bearer token against either a plain configured
// token or a bcrypt hash of it.
type AuthMiddleware struct {
	token     string
	tokenHash []byte
	logger    *slog.Logger

	mu       sync.RWMutex
	verified string // last token that matched tokenHash
}

// NewAuthMiddleware creates a new auth middleware. With neither token nor
// hash set every request is allowed.
func NewAuthMiddleware(token, tokenHash string, logger *slog.Logger) *AuthMiddleware {
	a := &AuthMiddleware{
		token:  token,
		logger: logger,
	}
	if tokenHash != "" {
		a.tokenHash = []byte(tokenHash)
	}
	return a
}

// RequireAuth wraps a handler to require a valid token.
func (a *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticate(r) {
			a.logger.Debug("rejected API request", "path", r.URL.Path, "remote", r.RemoteAddr)
			JSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next(w, r)
	}
}

// AuthRequired returns true if a token or token hash is configured.
func (a *AuthMiddleware) AuthRequired() bool {
	return a.token != "" || len(a.tokenHash) > 0
}

// authenticate checks the Authorization header, then the token query
// parameter (EventSource cannot set headers).
func (a *AuthMiddleware) authenticate(r *http.Request) bool {
	if !a.AuthRequired() {
		return true
	}

	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if a.checkToken(strings.TrimPrefix(h, "Bearer ")) {
			return true
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return a.checkToken(token)
	}
	return false
}

func (a *AuthMiddleware) checkToken(token string) bool {
	if token == "" {
		return false
	}
	if a.token != "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
	}

	// bcrypt is slow on purpose; remember the last good token so a polling
	// client pays for it once.
	a.mu.RLock()
	verified := a.verified
	a.mu.RUnlock()
	if verified != "" && subtle.ConstantTimeCompare([]byte(token), []byte(verified)) == 1 {
		return true
	}

	if err := bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)); err != nil {
		return false
	}
	a.mu.Lock()
	a.verified = token
	a.mu.Unlock()
	return true
}
