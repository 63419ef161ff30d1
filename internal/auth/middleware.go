package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/rvasek/authbridge/internal/httputil"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/session"
	"github.com/rvasek/authbridge/internal/user"
)

// Middleware authenticates requests against the session cookie.
type Middleware struct {
	sessions      SessionManager
	users         UserStore
	refreshWindow time.Duration
}

func NewMiddleware(sessions SessionManager, users UserStore, refreshWindow time.Duration) *Middleware {
	if refreshWindow <= 0 {
		refreshWindow = session.DefaultRefreshWindow
	}
	return &Middleware{
		sessions:      sessions,
		users:         users,
		refreshWindow: refreshWindow,
	}
}

// RequireSession resolves the session cookie to a user and puts both on the
// request context. Sessions close to expiry are slid forward; the refresh
// window check happens here so routine requests don't issue a write.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := session.TokenFromRequest(r)
		if !ok {
			httputil.RespondErrorWithCode(w, "authentication required", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		sess, err := m.sessions.Lookup(r.Context(), token)
		if err != nil {
			httputil.RespondErrorWithCode(w, "invalid or expired session", httputil.CodeInvalidSession, http.StatusUnauthorized)
			return
		}

		if session.NeedsRefresh(sess.ExpiresAt, time.Now(), m.refreshWindow) {
			if _, err := m.sessions.Refresh(r.Context(), token); err != nil {
				logging.GetLoggerFromContext(r.Context()).Warn("failed to refresh session", "error", err.Error())
			}
		}

		u, err := m.users.GetByID(r.Context(), sess.UserID)
		if err != nil {
			// Session without a user: revoke and deny.
			_ = m.sessions.Revoke(r.Context(), token)
			httputil.RespondErrorWithCode(w, "invalid or expired session", httputil.CodeInvalidSession, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, u)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on the user's role; must run inside
// RequireSession.
func (m *Middleware) RequireRole(role user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := GetUserFromContext(r.Context())
			if !ok {
				httputil.RespondErrorWithCode(w, "authentication required", httputil.CodeMissingAuth, http.StatusUnauthorized)
				return
			}
			if u.Role != role {
				httputil.RespondErrorWithCode(w, "insufficient permissions", httputil.CodeForbidden, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
