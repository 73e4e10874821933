package middleware

import (
	"context"
	"net/http"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/response"
	"github.com/tenderhq/core/internal/pkg/secrets"
	"github.com/tenderhq/core/internal/service"
)

// Cookie names used by the session layer.
const (
	SessionCookie = "thq_session"
	CSRFCookie    = "thq_csrf"
	CSRFHeader    = "X-CSRF-Token"
	VisitorCookie = "thq_visitor"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// PrincipalKey is the context key for the resolved request principal.
	PrincipalKey contextKey = "principal"
	// VisitorIDKey is the context key for a verified visitor ID.
	VisitorIDKey contextKey = "visitor_id"
)

// GetPrincipal retrieves the resolved principal from context, or nil for
// anonymous requests.
func GetPrincipal(ctx context.Context) *service.Principal {
	if v := ctx.Value(PrincipalKey); v != nil {
		return v.(*service.Principal)
	}
	return nil
}

// GetVisitorID retrieves the verified visitor ID from context.
func GetVisitorID(ctx context.Context) string {
	if v := ctx.Value(VisitorIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// sessionToken pulls the opaque session token from the cookie, falling back
// to a bearer header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// Auth resolves the session once per request and threads the principal
// through context. Requests without a valid session are rejected.
func Auth(auth service.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.ValidateSession(r.Context(), sessionToken(r))
			if err != nil {
				response.Error(w, apierrors.ErrUnauthenticated)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth resolves the session if present but lets anonymous requests
// through. Visitor tokens are verified here as well so pre-registration
// activity stays attributable.
func OptionalAuth(auth service.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := sessionToken(r); token != "" {
				if principal, err := auth.ValidateSession(ctx, token); err == nil {
					ctx = context.WithValue(ctx, PrincipalKey, principal)
				}
			}
			if c, err := r.Cookie(VisitorCookie); err == nil && c.Value != "" {
				if visitorID, err := auth.VerifyVisitorToken(c.Value); err == nil {
					ctx = context.WithValue(ctx, VisitorIDKey, visitorID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on the principal's organizational role.
func RequireRole(role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				response.Error(w, apierrors.ErrUnauthenticated)
				return
			}
			if !principal.Profile.Role.AtLeast(role) {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF enforces the double-submit pattern on state-changing methods: the
// token in the header must equal the token in the cookie, compared in
// constant time. Safe methods pass through.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CSRFCookie)
		if err != nil || cookie.Value == "" {
			response.Error(w, apierrors.ErrCSRFInvalid)
			return
		}
		header := r.Header.Get(CSRFHeader)
		if !secrets.VerifyCSRF(header, cookie.Value) {
			response.Error(w, apierrors.ErrCSRFInvalid)
			return
		}
		next.ServeHTTP(w, r)
	})
}
