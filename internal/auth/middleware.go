package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/librora/bookstore/internal/domain"
)

// Cookie names follow the conventions most HTTP clients already understand.
const (
	SessionCookie = "sessionid"
	CSRFCookie    = "csrftoken"
	CSRFHeader    = "X-CSRF-Token"
)

type identityKey struct{}
type sessionKeyType struct{}

// IdentityFrom returns the authenticated actor attached to the request, if
// any.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(domain.Identity)
	return identity, ok
}

// WithIdentity attaches an authenticated actor to the context.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func sessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKeyType{}).(*Session)
	return s, ok
}

type Middleware struct {
	sessions SessionStore
	logger   *slog.Logger
}

func NewMiddleware(sessions SessionStore, logger *slog.Logger) *Middleware {
	return &Middleware{sessions: sessions, logger: logger}
}

// Wrap resolves the session cookie into an Identity and enforces the CSRF
// double-submit check on unsafe methods for session-authenticated requests.
// Requests without a valid session pass through anonymously; handlers decide
// whether authentication is required.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			m.logger.Error("failed to load session", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if session == nil {
			next.ServeHTTP(w, r)
			return
		}

		if unsafeMethod(r.Method) && !strings.HasPrefix(r.URL.Path, "/auth/") {
			if r.Header.Get(CSRFHeader) != session.CSRF {
				writeJSONError(w, http.StatusForbidden, "CSRF token missing or invalid")
				return
			}
		}

		ctx := WithIdentity(r.Context(), domain.Identity{
			UserID:  session.UserID,
			IsStaff: session.IsStaff,
		})
		ctx = context.WithValue(ctx, sessionKeyType{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
